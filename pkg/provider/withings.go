package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-training/fitness-relay/pkg/config"
	"github.com/go-training/fitness-relay/pkg/core"
)

const (
	withingsAuthorizeURL = "https://account.withings.com/oauth2_user/authorize2"
	withingsTokenURL     = "https://wbsapi.withings.net/v2/oauth2"
	withingsAPIBase      = "https://wbsapi.withings.net"

	// WithingsTokenHeader carries the bearer credential from the
	// browser to the relay.
	WithingsTokenHeader = "x-withings-token"
)

// Withings implements Provider for the Withings API. The token endpoint
// is RPC style: a single URL takes a form-encoded body whose `action`
// field selects the operation, and every response is wrapped in a
// `{status, body}` envelope where a non-zero status means failure even
// on HTTP 200.
type Withings struct {
	cfg        config.Provider
	tokenURL   string
	httpClient *http.Client
}

// NewWithings creates a Withings provider with a configured HTTP client.
func NewWithings(cfg config.Provider) *Withings {
	return &Withings{
		cfg:        cfg,
		tokenURL:   withingsTokenURL,
		httpClient: newHTTPClient(),
	}
}

func (w *Withings) Name() string          { return NameWithings }
func (w *Withings) UsesPKCE() bool        { return false }
func (w *Withings) SupportsRefresh() bool { return true }
func (w *Withings) APIBase() string       { return withingsAPIBase }
func (w *Withings) TokenHeader() string   { return WithingsTokenHeader }

// AuthorizeURL assembles the Withings authorization URL. Withings
// scopes are comma-separated.
func (w *Withings) AuthorizeURL(req AuthorizeRequest) (string, error) {
	if w.cfg.ClientID == "" {
		return "", fmt.Errorf("withings client id: %w", core.ErrMissingCredential)
	}
	if w.cfg.RedirectURI == "" {
		return "", fmt.Errorf("withings redirect uri: %w", core.ErrMissingCredential)
	}

	u, err := url.Parse(withingsAuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse authorize URL: %w", err)
	}
	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("client_id", w.cfg.ClientID)
	values.Set("redirect_uri", w.cfg.RedirectURI)
	values.Set("scope", w.cfg.Scope)
	if req.State != "" {
		values.Set("state", req.State)
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// withingsEnvelope wraps every Withings v2 response.
type withingsEnvelope struct {
	Status int                   `json:"status"`
	Error  string                `json:"error"`
	Body   withingsTokenResponse `json:"body"`
}

type withingsTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	UserID       int64  `json:"userid"`
}

// ExchangeCode redeems an authorization code via the requesttoken
// action.
func (w *Withings) ExchangeCode(ctx context.Context, req ExchangeRequest) (*core.TokenRecord, error) {
	if w.cfg.ClientID == "" {
		return nil, fmt.Errorf("withings client id: %w", core.ErrMissingCredential)
	}
	if w.cfg.ClientSecret == "" {
		return nil, fmt.Errorf("withings client secret: %w", core.ErrMissingCredential)
	}

	form := url.Values{}
	form.Set("action", "requesttoken")
	form.Set("grant_type", "authorization_code")
	form.Set("code", req.Code)
	form.Set("client_id", w.cfg.ClientID)
	form.Set("client_secret", w.cfg.ClientSecret)
	form.Set("redirect_uri", w.cfg.RedirectURI)

	return w.tokenRequest(ctx, core.OpExchange, form)
}

// RefreshToken exchanges a refresh token for a new token pair, using
// the same requesttoken action with the refresh_token grant.
func (w *Withings) RefreshToken(ctx context.Context, refreshToken string) (*core.TokenRecord, error) {
	if w.cfg.ClientID == "" {
		return nil, fmt.Errorf("withings client id: %w", core.ErrMissingCredential)
	}
	if w.cfg.ClientSecret == "" {
		return nil, fmt.Errorf("withings client secret: %w", core.ErrMissingCredential)
	}

	form := url.Values{}
	form.Set("action", "requesttoken")
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", w.cfg.ClientID)
	form.Set("client_secret", w.cfg.ClientSecret)

	return w.tokenRequest(ctx, core.OpRefresh, form)
}

func (w *Withings) tokenRequest(ctx context.Context, op string, form url.Values) (*core.TokenRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("withings %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read withings %s response body: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &core.EndpointError{
			Provider:   NameWithings,
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	var envelope withingsEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("withings %s response: %w: %v", op, core.ErrSchemaMismatch, err)
	}
	// Withings signals failure in the envelope, not the HTTP status.
	if envelope.Status != 0 {
		return nil, &core.EndpointError{
			Provider:   NameWithings,
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       fmt.Sprintf("status %d: %s", envelope.Status, envelope.Error),
		}
	}
	if envelope.Body.AccessToken == "" {
		return nil, fmt.Errorf("withings %s response missing access_token: %w", op, core.ErrSchemaMismatch)
	}

	var userID string
	if envelope.Body.UserID != 0 {
		userID = strconv.FormatInt(envelope.Body.UserID, 10)
	}

	return core.FromTokenResponse(core.TokenResponse{
		AccessToken:  envelope.Body.AccessToken,
		RefreshToken: envelope.Body.RefreshToken,
		ExpiresIn:    envelope.Body.ExpiresIn,
		TokenType:    envelope.Body.TokenType,
		Scope:        envelope.Body.Scope,
		UserID:       userID,
	}, time.Now()), nil
}
