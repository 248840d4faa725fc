package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-training/fitness-relay/pkg/core"
	"github.com/redis/rueidis"
)

// pendingTTL bounds how long a pending authorization survives in Redis.
// The authorization code it belongs to is short-lived anyway, so an
// abandoned flow does not leave a verifier lying around.
const pendingTTL = 10 * time.Minute

// RedisStore implements the core.Store interface using Redis via rueidis.
type RedisStore struct {
	client rueidis.Client
}

// NewRedisStore creates a new instance of RedisStore with the provided rueidis client.
func NewRedisStore(client rueidis.Client) *RedisStore {
	return &RedisStore{
		client: client,
	}
}

// RedisOptions contains configuration for Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStoreFromOptions creates a new RedisStore with simplified options.
func NewRedisStoreFromOptions(opts RedisOptions) (*RedisStore, error) {
	clientOpts := rueidis.ClientOption{
		InitAddress: []string{opts.Addr},
		Password:    opts.Password,
		SelectDB:    opts.DB,
	}
	client, err := rueidis.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisStore(client), nil
}

// NewRedisStoreFromClientOption creates a new RedisStore with full rueidis client options.
func NewRedisStoreFromClientOption(opts rueidis.ClientOption) (*RedisStore, error) {
	client, err := rueidis.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisStore(client), nil
}

// Close closes the Redis client connection.
func (r *RedisStore) Close() {
	r.client.Close()
}

// SaveTokens stores the token record for a provider. The record has no
// Redis TTL: expiry is re-checked on every read, and a stale record is
// refreshed or cleared by the auth layer rather than evicted here.
func (r *RedisStore) SaveTokens(ctx context.Context, provider string, rec *core.TokenRecord) error {
	if rec == nil {
		return ErrNilTokenRecord
	}
	if provider == "" {
		return ErrEmptyProvider
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal token record: %w", err)
	}

	key := tokensKeyPrefix + provider
	cmd := r.client.B().Set().Key(key).Value(string(data)).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save token record to redis: %w", err)
	}

	return nil
}

// LoadTokens retrieves the token record for a provider. An empty or
// undecodable slot loads as nil. Uses client-side caching with a short
// TTL; rueidis invalidates the cache when the key is rewritten.
func (r *RedisStore) LoadTokens(ctx context.Context, provider string) (*core.TokenRecord, error) {
	if provider == "" {
		return nil, ErrEmptyProvider
	}

	key := tokensKeyPrefix + provider
	cmd := r.client.B().Get().Key(key).Cache()
	result, err := r.client.DoCache(ctx, cmd, 10*time.Second).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token record from redis: %w", err)
	}

	var rec core.TokenRecord
	if err := json.Unmarshal([]byte(result), &rec); err != nil {
		return nil, nil
	}

	return &rec, nil
}

// ClearTokens removes the token record for a provider. Clearing an
// empty slot is not an error.
func (r *RedisStore) ClearTokens(ctx context.Context, provider string) error {
	if provider == "" {
		return ErrEmptyProvider
	}

	key := tokensKeyPrefix + provider
	cmd := r.client.B().Del().Key(key).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to delete token record from redis: %w", err)
	}

	return nil
}

// SavePending stores the pending authorization for a provider with a TTL.
func (r *RedisStore) SavePending(ctx context.Context, provider string, pending *core.PendingAuthorization) error {
	if pending == nil {
		return ErrNilPending
	}
	if provider == "" {
		return ErrEmptyProvider
	}

	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to marshal pending authorization: %w", err)
	}

	key := pendingKeyPrefix + provider
	cmd := r.client.B().Set().Key(key).Value(string(data)).ExSeconds(int64(pendingTTL.Seconds())).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save pending authorization to redis: %w", err)
	}

	return nil
}

// LoadPending retrieves the pending authorization for a provider. An
// empty, expired, or undecodable slot loads as nil.
func (r *RedisStore) LoadPending(ctx context.Context, provider string) (*core.PendingAuthorization, error) {
	if provider == "" {
		return nil, ErrEmptyProvider
	}

	key := pendingKeyPrefix + provider
	cmd := r.client.B().Get().Key(key).Build()
	result, err := r.client.Do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pending authorization from redis: %w", err)
	}

	var pending core.PendingAuthorization
	if err := json.Unmarshal([]byte(result), &pending); err != nil {
		return nil, nil
	}

	return &pending, nil
}

// ClearPending removes the pending authorization for a provider.
func (r *RedisStore) ClearPending(ctx context.Context, provider string) error {
	if provider == "" {
		return ErrEmptyProvider
	}

	key := pendingKeyPrefix + provider
	cmd := r.client.B().Del().Key(key).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to delete pending authorization from redis: %w", err)
	}

	return nil
}
