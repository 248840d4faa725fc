package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/go-training/fitness-relay/pkg/core"
)

var (
	// ErrNilTokenRecord is returned when attempting to save a nil token record.
	ErrNilTokenRecord = errors.New("token record cannot be nil")
	// ErrNilPending is returned when attempting to save a nil pending authorization.
	ErrNilPending = errors.New("pending authorization cannot be nil")
	// ErrEmptyProvider is returned when the provider name is empty.
	ErrEmptyProvider = errors.New("provider name cannot be empty")
)

// Key prefixes shared by all store backends.
const (
	tokensKeyPrefix  = "tokens:"
	pendingKeyPrefix = "pending:"
)

// MemoryStore implements core.Store with an in-memory map. Values are
// kept JSON-serialized, like the external backends, so corrupted data
// degrades the same way everywhere: an undecodable slot loads as nil.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryStore creates a new instance of MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
	}
}

func (m *MemoryStore) save(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = data
	return nil
}

func (m *MemoryStore) load(key string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key]
}

func (m *MemoryStore) clear(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

// SaveTokens stores the token record for a provider, replacing any
// previous record as a whole.
func (m *MemoryStore) SaveTokens(ctx context.Context, provider string, rec *core.TokenRecord) error {
	if rec == nil {
		return ErrNilTokenRecord
	}
	if provider == "" {
		return ErrEmptyProvider
	}
	return m.save(tokensKeyPrefix+provider, rec)
}

// LoadTokens returns the stored token record for a provider, or nil when
// the slot is empty or holds undecodable data.
func (m *MemoryStore) LoadTokens(ctx context.Context, provider string) (*core.TokenRecord, error) {
	if provider == "" {
		return nil, ErrEmptyProvider
	}
	data := m.load(tokensKeyPrefix + provider)
	if data == nil {
		return nil, nil
	}
	var rec core.TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil
	}
	return &rec, nil
}

// ClearTokens removes the token record for a provider. Clearing an
// empty slot is not an error.
func (m *MemoryStore) ClearTokens(ctx context.Context, provider string) error {
	if provider == "" {
		return ErrEmptyProvider
	}
	m.clear(tokensKeyPrefix + provider)
	return nil
}

// SavePending stores the pending authorization for a provider. There is
// a single slot per provider; starting a new flow overwrites any
// in-flight one.
func (m *MemoryStore) SavePending(ctx context.Context, provider string, pending *core.PendingAuthorization) error {
	if pending == nil {
		return ErrNilPending
	}
	if provider == "" {
		return ErrEmptyProvider
	}
	return m.save(pendingKeyPrefix+provider, pending)
}

// LoadPending returns the pending authorization for a provider, or nil
// when the slot is empty or holds undecodable data.
func (m *MemoryStore) LoadPending(ctx context.Context, provider string) (*core.PendingAuthorization, error) {
	if provider == "" {
		return nil, ErrEmptyProvider
	}
	data := m.load(pendingKeyPrefix + provider)
	if data == nil {
		return nil, nil
	}
	var pending core.PendingAuthorization
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, nil
	}
	return &pending, nil
}

// ClearPending removes the pending authorization for a provider.
func (m *MemoryStore) ClearPending(ctx context.Context, provider string) error {
	if provider == "" {
		return ErrEmptyProvider
	}
	m.clear(pendingKeyPrefix + provider)
	return nil
}
