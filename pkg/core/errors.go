package core

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredential is returned when a required client id,
	// client secret, or redirect URI is absent at the point of use.
	ErrMissingCredential = errors.New("missing credential")
	// ErrMissingPendingState is returned when a callback arrives with
	// no matching pending authorization in the store.
	ErrMissingPendingState = errors.New("no pending authorization")
	// ErrStateMismatch is returned when the state echoed by the
	// provider does not match the one generated before the redirect.
	ErrStateMismatch = errors.New("oauth state mismatch")
	// ErrRefreshUnsupported is returned by providers whose tokens
	// cannot be refreshed.
	ErrRefreshUnsupported = errors.New("refresh not supported")
	// ErrSchemaMismatch is returned when an upstream response cannot be
	// decoded into the expected shape.
	ErrSchemaMismatch = errors.New("unexpected response shape")
)

// Operations reported by EndpointError.
const (
	OpExchange = "exchange"
	OpRefresh  = "refresh"
)

// EndpointError is a non-2xx response from a provider token endpoint.
// It keeps the raw body for diagnostics; callers treat a refresh failure
// as "re-authorization required" rather than retrying.
type EndpointError struct {
	Provider   string
	Op         string
	StatusCode int
	Body       string
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Provider, e.Op, e.StatusCode, e.Body)
}

// AuthorizationDeniedError is produced when the provider redirects back
// with an error instead of an authorization code. The description is
// surfaced to the user verbatim.
type AuthorizationDeniedError struct {
	Code        string
	Description string
}

func (e *AuthorizationDeniedError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization denied: %s (%s)", e.Description, e.Code)
	}
	return fmt.Sprintf("authorization denied: %s", e.Code)
}
