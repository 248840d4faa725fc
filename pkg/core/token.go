package core

import "time"

// expiryBuffer is subtracted from the provider-reported lifetime so a
// token is refreshed slightly before the upstream actually rejects it.
const expiryBuffer = 60 * time.Second

// TokenRecord holds the credentials stored for one provider. A record is
// always written as a whole and replaced atomically on save.
type TokenRecord struct {
	AccessToken string `json:"access_token"`
	// RefreshToken is empty for providers whose tokens are long-lived
	// and cannot be refreshed (Polar).
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	// UserID is the provider-assigned account identifier. Polar requires
	// it to build data API paths after registration.
	UserID string `json:"user_id,omitempty"`
}

// Expired reports whether the record's access token is past its expiry
// at the given instant. A nil record is always expired.
func (r *TokenRecord) Expired(now time.Time) bool {
	if r == nil {
		return true
	}
	return !now.Before(r.ExpiresAt)
}

// TokenResponse is the normalized shape of a provider token endpoint
// payload. Provider-specific field names (user_id, x_user_id, userid)
// are mapped into it by each provider implementation before the record
// is built.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	UserID       string `json:"user_id,omitempty"`
}

// FromTokenResponse builds a TokenRecord from a token endpoint response.
// The expiry is set to now + (expires_in - 60s), clamped at now, so a
// token reported with 60 seconds or less of life is treated as already
// due for refresh without ever being dated in the past.
func FromTokenResponse(resp TokenResponse, now time.Time) *TokenRecord {
	ttl := time.Duration(resp.ExpiresIn)*time.Second - expiryBuffer
	if ttl < 0 {
		ttl = 0
	}
	return &TokenRecord{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    now.Add(ttl),
		Scope:        resp.Scope,
		TokenType:    resp.TokenType,
		UserID:       resp.UserID,
	}
}

// PendingAuthorization is the state parked between redirecting the user
// out to a provider and receiving the code at the callback. One slot
// exists per provider; it is consumed and deleted when the callback
// completes, successfully or not.
type PendingAuthorization struct {
	// CodeVerifier is only set for PKCE providers (Fitbit).
	CodeVerifier string    `json:"code_verifier,omitempty"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
}
