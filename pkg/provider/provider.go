// Package provider implements the OAuth strategies for the supported
// fitness upstreams. Each provider knows how to build its authorization
// URL, exchange an authorization code, and (where the upstream supports
// it) refresh an access token.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/go-training/fitness-relay/pkg/config"
	"github.com/go-training/fitness-relay/pkg/core"
)

const requestTimeout = 30 * time.Second

// AuthorizeRequest carries the per-flow parameters for building an
// authorization URL. Client id, redirect URI and scope come from the
// provider's configuration.
type AuthorizeRequest struct {
	State         string
	CodeChallenge string // PKCE providers only
	Prompt        string // optional consent/login hint (Fitbit)
}

// ExchangeRequest carries the callback result needed to redeem an
// authorization code.
type ExchangeRequest struct {
	Code         string
	CodeVerifier string // PKCE providers only
}

// Provider is one OAuth upstream strategy.
type Provider interface {
	Name() string
	// UsesPKCE reports whether the authorize/exchange pair carries a
	// PKCE verifier and challenge.
	UsesPKCE() bool
	// SupportsRefresh reports whether RefreshToken can mint new access
	// tokens. Providers without refresh issue long-lived tokens and
	// require a full re-authorization once those lapse.
	SupportsRefresh() bool

	AuthorizeURL(req AuthorizeRequest) (string, error)
	ExchangeCode(ctx context.Context, req ExchangeRequest) (*core.TokenRecord, error)
	RefreshToken(ctx context.Context, refreshToken string) (*core.TokenRecord, error)

	// APIBase is the upstream data API origin the relay forwards to.
	APIBase() string
	// TokenHeader is the custom header the relay reads the bearer
	// credential from.
	TokenHeader() string
}

// PostExchangeHook is implemented by providers that require a follow-up
// call after the code exchange before data endpoints return results.
// Hook failures must not fail the exchange.
type PostExchangeHook interface {
	PostExchange(ctx context.Context, rec *core.TokenRecord) error
}

// Registry builds the configured provider set keyed by name.
func Registry(cfg *config.Config) map[string]Provider {
	return map[string]Provider{
		NameFitbit:   NewFitbit(cfg.Fitbit),
		NamePolar:    NewPolar(cfg.Polar),
		NameWithings: NewWithings(cfg.Withings),
	}
}

// Provider names, also used as store key namespaces and route segments.
const (
	NameFitbit   = "fitbit"
	NamePolar    = "polar"
	NameWithings = "withings"
)

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: requestTimeout,
	}
}
