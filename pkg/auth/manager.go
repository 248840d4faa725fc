// Package auth drives the OAuth code flow against a provider strategy
// and owns the stored token lifecycle: begin, callback completion,
// transparent refresh, and disconnect.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-training/fitness-relay/pkg/core"
	"github.com/go-training/fitness-relay/pkg/provider"
)

// Manager runs the authorization flow for a single provider and keeps
// its token record current in the store.
type Manager struct {
	provider provider.Provider
	store    core.Store

	// now is swapped out in tests.
	now func() time.Time
}

// NewManager wires a provider strategy to a token store.
func NewManager(p provider.Provider, store core.Store) *Manager {
	return &Manager{
		provider: p,
		store:    store,
		now:      time.Now,
	}
}

// Provider exposes the underlying strategy.
func (m *Manager) Provider() provider.Provider { return m.provider }

// log returns the request-scoped logger tagged with the provider name.
func (m *Manager) log(ctx context.Context) *slog.Logger {
	return core.LoggerFromCtx(ctx).With("provider", m.provider.Name())
}

// Begin generates the anti-CSRF state (and, for PKCE providers, the
// verifier/challenge pair), parks them as the pending authorization,
// and returns the URL to redirect the user to.
func (m *Manager) Begin(ctx context.Context, prompt string) (string, error) {
	state, err := provider.GenerateState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	pending := &core.PendingAuthorization{
		State:     state,
		CreatedAt: m.now(),
	}
	authReq := provider.AuthorizeRequest{
		State:  state,
		Prompt: prompt,
	}

	if m.provider.UsesPKCE() {
		verifier, err := provider.GenerateCodeVerifier(provider.DefaultVerifierLength)
		if err != nil {
			return "", fmt.Errorf("failed to generate code verifier: %w", err)
		}
		pending.CodeVerifier = verifier
		authReq.CodeChallenge = provider.GenerateCodeChallenge(verifier)
	}

	authorizeURL, err := m.provider.AuthorizeURL(authReq)
	if err != nil {
		return "", err
	}

	if err := m.store.SavePending(ctx, m.provider.Name(), pending); err != nil {
		return "", fmt.Errorf("failed to save pending authorization: %w", err)
	}

	m.log(ctx).Debug("authorization flow started")
	return authorizeURL, nil
}

// CallbackParams is what the provider sent back on the redirect.
type CallbackParams struct {
	Code             string
	State            string
	ErrorCode        string
	ErrorDescription string
}

// Complete consumes the callback: it verifies the state, redeems the
// code, runs the provider's post-exchange hook if it has one, and saves
// the token record. The pending authorization is cleared whether the
// callback succeeds or fails, so a retry always starts a fresh flow.
func (m *Manager) Complete(ctx context.Context, params CallbackParams) (*core.TokenRecord, error) {
	defer func() {
		if err := m.store.ClearPending(ctx, m.provider.Name()); err != nil {
			m.log(ctx).Warn("failed to clear pending authorization", "error", err)
		}
	}()

	if params.ErrorCode != "" {
		return nil, &core.AuthorizationDeniedError{
			Code:        params.ErrorCode,
			Description: params.ErrorDescription,
		}
	}
	if params.Code == "" {
		return nil, fmt.Errorf("callback carried no authorization code")
	}

	pending, err := m.store.LoadPending(ctx, m.provider.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to load pending authorization: %w", err)
	}
	if pending == nil {
		return nil, core.ErrMissingPendingState
	}
	if pending.State != params.State {
		return nil, core.ErrStateMismatch
	}

	rec, err := m.provider.ExchangeCode(ctx, provider.ExchangeRequest{
		Code:         params.Code,
		CodeVerifier: pending.CodeVerifier,
	})
	if err != nil {
		return nil, err
	}

	if hook, ok := m.provider.(provider.PostExchangeHook); ok {
		if err := hook.PostExchange(ctx, rec); err != nil {
			m.log(ctx).Warn("post-exchange hook failed", "error", err)
		}
	}

	if err := m.store.SaveTokens(ctx, m.provider.Name(), rec); err != nil {
		return nil, fmt.Errorf("failed to save tokens: %w", err)
	}

	m.log(ctx).Info("provider connected", "user_id", rec.UserID)
	return rec, nil
}

// ValidAccessToken returns an access token that is not yet within the
// expiry buffer, refreshing and persisting a new record when possible.
// It returns "" when the provider is not connected or the token lapsed
// and could not be refreshed; it never returns a stale token.
func (m *Manager) ValidAccessToken(ctx context.Context) (string, error) {
	rec, err := m.store.LoadTokens(ctx, m.provider.Name())
	if err != nil {
		return "", fmt.Errorf("failed to load tokens: %w", err)
	}
	if rec == nil {
		return "", nil
	}
	if !rec.Expired(m.now()) {
		return rec.AccessToken, nil
	}

	if !m.provider.SupportsRefresh() || rec.RefreshToken == "" {
		m.log(ctx).Debug("token expired and cannot be refreshed")
		return "", nil
	}

	fresh, err := m.provider.RefreshToken(ctx, rec.RefreshToken)
	if err != nil {
		m.log(ctx).Warn("token refresh failed", "error", err)
		return "", nil
	}
	// Carry the account identifier forward when the refresh response
	// omits it.
	if fresh.UserID == "" {
		fresh.UserID = rec.UserID
	}
	if err := m.store.SaveTokens(ctx, m.provider.Name(), fresh); err != nil {
		return "", fmt.Errorf("failed to save refreshed tokens: %w", err)
	}

	m.log(ctx).Debug("token refreshed")
	return fresh.AccessToken, nil
}

// Status describes the stored connection for a provider.
type Status struct {
	Provider  string    `json:"provider"`
	Connected bool      `json:"connected"`
	Expired   bool      `json:"expired,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Status reports whether a token record exists and whether it is still
// inside its validity window. It never touches the upstream.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	status := Status{Provider: m.provider.Name()}

	rec, err := m.store.LoadTokens(ctx, m.provider.Name())
	if err != nil {
		return status, fmt.Errorf("failed to load tokens: %w", err)
	}
	if rec == nil {
		return status, nil
	}

	status.Connected = true
	status.Expired = rec.Expired(m.now())
	status.UserID = rec.UserID
	status.ExpiresAt = rec.ExpiresAt
	return status, nil
}

// Disconnect drops the stored token record. Clearing an absent record
// is not an error.
func (m *Manager) Disconnect(ctx context.Context) error {
	if err := m.store.ClearTokens(ctx, m.provider.Name()); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	m.log(ctx).Info("provider disconnected")
	return nil
}
