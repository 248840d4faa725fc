package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-training/fitness-relay/pkg/config"
	"github.com/go-training/fitness-relay/pkg/core"

	"github.com/google/uuid"
)

const (
	polarAuthorizeURL = "https://flow.polar.com/oauth2/authorization"
	polarTokenURL     = "https://polarremote.com/v2/oauth2/token"
	polarAPIBase      = "https://www.polaraccesslink.com"

	// PolarTokenHeader carries the bearer credential from the browser
	// to the relay.
	PolarTokenHeader = "x-polar-token"
)

// Polar implements Provider for the Polar AccessLink API. The exchange
// authenticates with Basic client credentials, tokens live about a year
// and cannot be refreshed, and a user must be registered with
// AccessLink before any data endpoint returns results.
type Polar struct {
	cfg        config.Provider
	tokenURL   string
	apiBase    string
	httpClient *http.Client
}

// NewPolar creates a Polar provider with a configured HTTP client.
func NewPolar(cfg config.Provider) *Polar {
	return &Polar{
		cfg:        cfg,
		tokenURL:   polarTokenURL,
		apiBase:    polarAPIBase,
		httpClient: newHTTPClient(),
	}
}

func (p *Polar) Name() string          { return NamePolar }
func (p *Polar) UsesPKCE() bool        { return false }
func (p *Polar) SupportsRefresh() bool { return false }
func (p *Polar) APIBase() string       { return p.apiBase }
func (p *Polar) TokenHeader() string   { return PolarTokenHeader }

// AuthorizeURL assembles the Polar Flow authorization URL.
func (p *Polar) AuthorizeURL(req AuthorizeRequest) (string, error) {
	if p.cfg.ClientID == "" {
		return "", fmt.Errorf("polar client id: %w", core.ErrMissingCredential)
	}
	if p.cfg.RedirectURI == "" {
		return "", fmt.Errorf("polar redirect uri: %w", core.ErrMissingCredential)
	}

	u, err := url.Parse(polarAuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse authorize URL: %w", err)
	}
	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("client_id", p.cfg.ClientID)
	values.Set("redirect_uri", p.cfg.RedirectURI)
	values.Set("scope", p.cfg.Scope)
	if req.State != "" {
		values.Set("state", req.State)
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// polarTokenResponse is the raw token endpoint payload. Polar reports
// the account identifier as a number.
type polarTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	XUserID     int64  `json:"x_user_id"`
	Error       string `json:"error"`
}

// ExchangeCode redeems an authorization code using Basic client
// credentials. No refresh token is issued.
func (p *Polar) ExchangeCode(ctx context.Context, req ExchangeRequest) (*core.TokenRecord, error) {
	if p.cfg.ClientID == "" {
		return nil, fmt.Errorf("polar client id: %w", core.ErrMissingCredential)
	}
	if p.cfg.ClientSecret == "" {
		return nil, fmt.Errorf("polar client secret: %w", core.ErrMissingCredential)
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", req.Code)
	form.Set("redirect_uri", p.cfg.RedirectURI)

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json;charset=UTF-8")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("polar exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read polar exchange response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &core.EndpointError{
			Provider:   NamePolar,
			Op:         core.OpExchange,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	var tokenResp polarTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("polar exchange response: %w: %v", core.ErrSchemaMismatch, err)
	}
	if tokenResp.Error != "" {
		// Polar can reject the grant inside a 200 body; report it as a
		// bad request so callers never see a success status.
		return nil, &core.EndpointError{
			Provider:   NamePolar,
			Op:         core.OpExchange,
			StatusCode: http.StatusBadRequest,
			Body:       tokenResp.Error,
		}
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("polar exchange response missing access_token: %w", core.ErrSchemaMismatch)
	}

	var userID string
	if tokenResp.XUserID != 0 {
		userID = strconv.FormatInt(tokenResp.XUserID, 10)
	}

	return core.FromTokenResponse(core.TokenResponse{
		AccessToken: tokenResp.AccessToken,
		ExpiresIn:   tokenResp.ExpiresIn,
		TokenType:   tokenResp.TokenType,
		UserID:      userID,
	}, time.Now()), nil
}

// RefreshToken always fails: Polar access tokens are long-lived and the
// token endpoint has no refresh grant.
func (p *Polar) RefreshToken(ctx context.Context, refreshToken string) (*core.TokenRecord, error) {
	return nil, core.ErrRefreshUnsupported
}

// PostExchange registers the user with AccessLink. Data endpoints only
// return results for registered users. A 409 means the user is already
// registered and counts as success; any other failure is logged and
// swallowed so a hiccup here never blocks the connect flow.
func (p *Polar) PostExchange(ctx context.Context, rec *core.TokenRecord) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{
		"member-id": "user_" + uuid.New().String()[:8],
	})
	if err != nil {
		return nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/v3/users", bytes.NewReader(payload))
	if err != nil {
		return nil
	}
	httpReq.Header.Set("Authorization", "Bearer "+rec.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		slog.Warn("polar user registration failed", "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		slog.Debug("polar user already registered")
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("polar user registration rejected",
			"status", resp.StatusCode,
			"body", string(body),
		)
		return nil
	}

	var registered struct {
		PolarUserID int64 `json:"polar-user-id"`
	}
	if err := json.Unmarshal(body, &registered); err == nil && registered.PolarUserID != 0 && rec.UserID == "" {
		rec.UserID = strconv.FormatInt(registered.PolarUserID, 10)
	}
	return nil
}
