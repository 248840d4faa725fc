package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-training/fitness-relay/pkg/core"
	"github.com/go-training/fitness-relay/pkg/provider"
	"github.com/go-training/fitness-relay/pkg/store"
)

// fakeProvider is a scriptable Provider for flow tests.
type fakeProvider struct {
	name            string
	usesPKCE        bool
	supportsRefresh bool

	exchangeRec  *core.TokenRecord
	exchangeErr  error
	exchangeReqs []provider.ExchangeRequest

	refreshRec   *core.TokenRecord
	refreshErr   error
	refreshCalls int

	postExchangeErr   error
	postExchangeCalls int
}

func (f *fakeProvider) Name() string          { return f.name }
func (f *fakeProvider) UsesPKCE() bool        { return f.usesPKCE }
func (f *fakeProvider) SupportsRefresh() bool { return f.supportsRefresh }
func (f *fakeProvider) APIBase() string       { return "https://api.example.com" }
func (f *fakeProvider) TokenHeader() string   { return "x-" + f.name + "-token" }

func (f *fakeProvider) AuthorizeURL(req provider.AuthorizeRequest) (string, error) {
	values := url.Values{}
	values.Set("state", req.State)
	if req.CodeChallenge != "" {
		values.Set("code_challenge", req.CodeChallenge)
	}
	return "https://auth.example.com/authorize?" + values.Encode(), nil
}

func (f *fakeProvider) ExchangeCode(ctx context.Context, req provider.ExchangeRequest) (*core.TokenRecord, error) {
	f.exchangeReqs = append(f.exchangeReqs, req)
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.exchangeRec, nil
}

func (f *fakeProvider) RefreshToken(ctx context.Context, refreshToken string) (*core.TokenRecord, error) {
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshRec, nil
}

// hookedProvider adds the post-exchange hook.
type hookedProvider struct {
	fakeProvider
}

func (h *hookedProvider) PostExchange(ctx context.Context, rec *core.TokenRecord) error {
	h.postExchangeCalls++
	return h.postExchangeErr
}

func newTestManager(p provider.Provider) (*Manager, *store.MemoryStore) {
	s := store.NewMemoryStore()
	return NewManager(p, s), s
}

func TestManager_Begin(t *testing.T) {
	ctx := context.Background()
	fake := &fakeProvider{name: "fitbit", usesPKCE: true}
	m, s := newTestManager(fake)

	authorizeURL, err := m.Begin(ctx, "")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	u, err := url.Parse(authorizeURL)
	if err != nil {
		t.Fatalf("invalid authorize URL %q: %v", authorizeURL, err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Fatal("authorize URL carries no state")
	}
	if u.Query().Get("code_challenge") == "" {
		t.Error("PKCE provider authorize URL carries no code challenge")
	}

	pending, err := s.LoadPending(ctx, "fitbit")
	if err != nil {
		t.Fatalf("LoadPending() error = %v", err)
	}
	if pending == nil {
		t.Fatal("Begin() saved no pending authorization")
	}
	if pending.State != state {
		t.Errorf("pending state = %q, URL state = %q", pending.State, state)
	}
	if len(pending.CodeVerifier) != provider.DefaultVerifierLength {
		t.Errorf("verifier length = %d, want %d", len(pending.CodeVerifier), provider.DefaultVerifierLength)
	}
}

func TestManager_Begin_NoPKCE(t *testing.T) {
	ctx := context.Background()
	fake := &fakeProvider{name: "polar"}
	m, s := newTestManager(fake)

	authorizeURL, err := m.Begin(ctx, "")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if strings.Contains(authorizeURL, "code_challenge") {
		t.Errorf("non-PKCE authorize URL should carry no challenge: %q", authorizeURL)
	}

	pending, _ := s.LoadPending(ctx, "polar")
	if pending == nil || pending.CodeVerifier != "" {
		t.Errorf("pending = %+v, want a record without a verifier", pending)
	}
}

func TestManager_Complete(t *testing.T) {
	ctx := context.Background()
	rec := &core.TokenRecord{
		AccessToken:  "AT",
		RefreshToken: "RT",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	fake := &fakeProvider{name: "fitbit", usesPKCE: true, exchangeRec: rec}
	m, s := newTestManager(fake)

	s.SavePending(ctx, "fitbit", &core.PendingAuthorization{
		State:        "st",
		CodeVerifier: "ver",
		CreatedAt:    time.Now(),
	})

	got, err := m.Complete(ctx, CallbackParams{Code: "abc", State: "st"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got.AccessToken != "AT" {
		t.Errorf("AccessToken = %q, want AT", got.AccessToken)
	}
	if len(fake.exchangeReqs) != 1 || fake.exchangeReqs[0].CodeVerifier != "ver" {
		t.Errorf("exchange requests = %+v, want one carrying the stored verifier", fake.exchangeReqs)
	}

	stored, _ := s.LoadTokens(ctx, "fitbit")
	if stored == nil || stored.AccessToken != "AT" {
		t.Errorf("stored record = %+v, want the exchanged tokens", stored)
	}

	pending, _ := s.LoadPending(ctx, "fitbit")
	if pending != nil {
		t.Error("pending authorization should be cleared after success")
	}
}

func TestManager_Complete_Denied(t *testing.T) {
	ctx := context.Background()
	fake := &fakeProvider{name: "fitbit"}
	m, s := newTestManager(fake)

	s.SavePending(ctx, "fitbit", &core.PendingAuthorization{State: "st", CreatedAt: time.Now()})

	_, err := m.Complete(ctx, CallbackParams{
		ErrorCode:        "access_denied",
		ErrorDescription: "user cancelled",
	})

	var denied *core.AuthorizationDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("Complete() error = %v, want *core.AuthorizationDeniedError", err)
	}
	if denied.Code != "access_denied" {
		t.Errorf("Code = %q, want access_denied", denied.Code)
	}
	if len(fake.exchangeReqs) != 0 {
		t.Error("denied callback must not hit the token endpoint")
	}

	pending, _ := s.LoadPending(ctx, "fitbit")
	if pending != nil {
		t.Error("pending authorization should be cleared after denial")
	}
}

func TestManager_Complete_NoPending(t *testing.T) {
	fake := &fakeProvider{name: "fitbit"}
	m, _ := newTestManager(fake)

	_, err := m.Complete(context.Background(), CallbackParams{Code: "abc", State: "st"})
	if !errors.Is(err, core.ErrMissingPendingState) {
		t.Errorf("Complete() error = %v, want ErrMissingPendingState", err)
	}
}

func TestManager_Complete_StateMismatch(t *testing.T) {
	ctx := context.Background()
	fake := &fakeProvider{name: "fitbit"}
	m, s := newTestManager(fake)

	s.SavePending(ctx, "fitbit", &core.PendingAuthorization{State: "expected", CreatedAt: time.Now()})

	_, err := m.Complete(ctx, CallbackParams{Code: "abc", State: "forged"})
	if !errors.Is(err, core.ErrStateMismatch) {
		t.Fatalf("Complete() error = %v, want ErrStateMismatch", err)
	}
	if len(fake.exchangeReqs) != 0 {
		t.Error("mismatched state must not hit the token endpoint")
	}

	pending, _ := s.LoadPending(ctx, "fitbit")
	if pending != nil {
		t.Error("pending authorization should be cleared after a mismatch")
	}
}

func TestManager_Complete_ExchangeFailure(t *testing.T) {
	ctx := context.Background()
	fake := &fakeProvider{
		name:        "fitbit",
		exchangeErr: &core.EndpointError{Provider: "fitbit", Op: core.OpExchange, StatusCode: 400, Body: "invalid_grant"},
	}
	m, s := newTestManager(fake)

	s.SavePending(ctx, "fitbit", &core.PendingAuthorization{State: "st", CreatedAt: time.Now()})

	_, err := m.Complete(ctx, CallbackParams{Code: "abc", State: "st"})

	var endpointErr *core.EndpointError
	if !errors.As(err, &endpointErr) {
		t.Fatalf("Complete() error = %v, want *core.EndpointError", err)
	}

	stored, _ := s.LoadTokens(ctx, "fitbit")
	if stored != nil {
		t.Error("failed exchange must not store tokens")
	}
	pending, _ := s.LoadPending(ctx, "fitbit")
	if pending != nil {
		t.Error("pending authorization should be cleared after a failed exchange")
	}
}

func TestManager_Complete_HookFailureSwallowed(t *testing.T) {
	ctx := context.Background()
	hooked := &hookedProvider{fakeProvider: fakeProvider{
		name: "polar",
		exchangeRec: &core.TokenRecord{
			AccessToken: "PAT",
			ExpiresAt:   time.Now().Add(time.Hour),
		},
		postExchangeErr: errors.New("registration down"),
	}}
	m, s := newTestManager(hooked)

	s.SavePending(ctx, "polar", &core.PendingAuthorization{State: "st", CreatedAt: time.Now()})

	rec, err := m.Complete(ctx, CallbackParams{Code: "abc", State: "st"})
	if err != nil {
		t.Fatalf("Complete() error = %v, want hook failure swallowed", err)
	}
	if hooked.postExchangeCalls != 1 {
		t.Errorf("postExchangeCalls = %d, want 1", hooked.postExchangeCalls)
	}
	if rec.AccessToken != "PAT" {
		t.Errorf("AccessToken = %q, want PAT", rec.AccessToken)
	}
}

func TestManager_ValidAccessToken(t *testing.T) {
	ctx := context.Background()

	t.Run("not connected", func(t *testing.T) {
		m, _ := newTestManager(&fakeProvider{name: "fitbit", supportsRefresh: true})
		token, err := m.ValidAccessToken(ctx)
		if err != nil {
			t.Fatalf("ValidAccessToken() error = %v", err)
		}
		if token != "" {
			t.Errorf("token = %q, want empty", token)
		}
	})

	t.Run("unexpired token returned directly", func(t *testing.T) {
		fake := &fakeProvider{name: "fitbit", supportsRefresh: true}
		m, s := newTestManager(fake)
		s.SaveTokens(ctx, "fitbit", &core.TokenRecord{
			AccessToken:  "AT",
			RefreshToken: "RT",
			ExpiresAt:    time.Now().Add(time.Hour),
		})

		token, err := m.ValidAccessToken(ctx)
		if err != nil {
			t.Fatalf("ValidAccessToken() error = %v", err)
		}
		if token != "AT" {
			t.Errorf("token = %q, want AT", token)
		}
		if fake.refreshCalls != 0 {
			t.Errorf("refreshCalls = %d, want 0", fake.refreshCalls)
		}
	})

	t.Run("expired token refreshed and saved", func(t *testing.T) {
		fake := &fakeProvider{
			name:            "fitbit",
			supportsRefresh: true,
			refreshRec: &core.TokenRecord{
				AccessToken:  "AT2",
				RefreshToken: "RT2",
				ExpiresAt:    time.Now().Add(time.Hour),
			},
		}
		m, s := newTestManager(fake)
		s.SaveTokens(ctx, "fitbit", &core.TokenRecord{
			AccessToken:  "AT1",
			RefreshToken: "RT1",
			ExpiresAt:    time.Now().Add(-time.Minute),
			UserID:       "ABC123",
		})

		token, err := m.ValidAccessToken(ctx)
		if err != nil {
			t.Fatalf("ValidAccessToken() error = %v", err)
		}
		if token != "AT2" {
			t.Errorf("token = %q, want AT2", token)
		}

		stored, _ := s.LoadTokens(ctx, "fitbit")
		if stored.AccessToken != "AT2" || stored.RefreshToken != "RT2" {
			t.Errorf("stored = %+v, want the refreshed pair", stored)
		}
		if stored.UserID != "ABC123" {
			t.Errorf("UserID = %q, want carried forward", stored.UserID)
		}
	})

	t.Run("expired without refresh support", func(t *testing.T) {
		fake := &fakeProvider{name: "polar"}
		m, s := newTestManager(fake)
		s.SaveTokens(ctx, "polar", &core.TokenRecord{
			AccessToken: "PAT",
			ExpiresAt:   time.Now().Add(-time.Minute),
		})

		token, err := m.ValidAccessToken(ctx)
		if err != nil {
			t.Fatalf("ValidAccessToken() error = %v", err)
		}
		if token != "" {
			t.Errorf("token = %q, want empty", token)
		}
		if fake.refreshCalls != 0 {
			t.Errorf("refreshCalls = %d, want 0", fake.refreshCalls)
		}
	})

	t.Run("refresh failure degrades to not connected", func(t *testing.T) {
		fake := &fakeProvider{
			name:            "fitbit",
			supportsRefresh: true,
			refreshErr:      &core.EndpointError{Provider: "fitbit", Op: core.OpRefresh, StatusCode: 401, Body: "invalid_token"},
		}
		m, s := newTestManager(fake)
		s.SaveTokens(ctx, "fitbit", &core.TokenRecord{
			AccessToken:  "AT",
			RefreshToken: "RT",
			ExpiresAt:    time.Now().Add(-time.Minute),
		})

		token, err := m.ValidAccessToken(ctx)
		if err != nil {
			t.Fatalf("ValidAccessToken() error = %v", err)
		}
		if token != "" {
			t.Errorf("token = %q, want empty after refresh failure", token)
		}
	})
}

func TestManager_Status(t *testing.T) {
	ctx := context.Background()
	fake := &fakeProvider{name: "fitbit", supportsRefresh: true}
	m, s := newTestManager(fake)

	status, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Connected {
		t.Error("empty store should report not connected")
	}

	expiry := time.Now().Add(time.Hour)
	s.SaveTokens(ctx, "fitbit", &core.TokenRecord{
		AccessToken: "AT",
		ExpiresAt:   expiry,
		UserID:      "ABC123",
	})

	status, err = m.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.Connected || status.Expired {
		t.Errorf("status = %+v, want connected and unexpired", status)
	}
	if status.UserID != "ABC123" {
		t.Errorf("UserID = %q, want ABC123", status.UserID)
	}
}

func TestManager_Disconnect(t *testing.T) {
	ctx := context.Background()
	fake := &fakeProvider{name: "fitbit"}
	m, s := newTestManager(fake)

	s.SaveTokens(ctx, "fitbit", &core.TokenRecord{
		AccessToken: "AT",
		ExpiresAt:   time.Now().Add(time.Hour),
	})

	if err := m.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	stored, _ := s.LoadTokens(ctx, "fitbit")
	if stored != nil {
		t.Error("Disconnect() left a token record behind")
	}

	// disconnecting twice is fine
	if err := m.Disconnect(ctx); err != nil {
		t.Errorf("second Disconnect() error = %v", err)
	}
}
