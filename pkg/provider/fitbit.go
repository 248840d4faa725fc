package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-training/fitness-relay/pkg/config"
	"github.com/go-training/fitness-relay/pkg/core"
)

const (
	fitbitAuthorizeURL = "https://www.fitbit.com/oauth2/authorize"
	fitbitTokenURL     = "https://api.fitbit.com/oauth2/token"
	fitbitAPIBase      = "https://api.fitbit.com"

	// FitbitTokenHeader carries the bearer credential from the browser
	// to the relay; the relay turns it into a real Authorization header.
	FitbitTokenHeader = "x-fitbit-token"
)

// Fitbit implements Provider for the Fitbit Web API. Fitbit is the one
// upstream that requires PKCE: the public client authenticates the
// exchange with a code verifier instead of a client secret.
type Fitbit struct {
	cfg        config.Provider
	tokenURL   string
	httpClient *http.Client
}

// NewFitbit creates a Fitbit provider with a configured HTTP client.
func NewFitbit(cfg config.Provider) *Fitbit {
	return &Fitbit{
		cfg:        cfg,
		tokenURL:   fitbitTokenURL,
		httpClient: newHTTPClient(),
	}
}

func (f *Fitbit) Name() string          { return NameFitbit }
func (f *Fitbit) UsesPKCE() bool        { return true }
func (f *Fitbit) SupportsRefresh() bool { return true }
func (f *Fitbit) APIBase() string       { return fitbitAPIBase }
func (f *Fitbit) TokenHeader() string   { return FitbitTokenHeader }

// AuthorizeURL assembles the Fitbit authorization URL with the S256
// code challenge. Pure function, no network.
func (f *Fitbit) AuthorizeURL(req AuthorizeRequest) (string, error) {
	if f.cfg.ClientID == "" {
		return "", fmt.Errorf("fitbit client id: %w", core.ErrMissingCredential)
	}
	if f.cfg.RedirectURI == "" {
		return "", fmt.Errorf("fitbit redirect uri: %w", core.ErrMissingCredential)
	}
	if req.CodeChallenge == "" {
		return "", fmt.Errorf("fitbit requires a PKCE code challenge")
	}

	u, err := url.Parse(fitbitAuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse authorize URL: %w", err)
	}
	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("client_id", f.cfg.ClientID)
	values.Set("redirect_uri", f.cfg.RedirectURI)
	values.Set("scope", f.cfg.Scope)
	values.Set("code_challenge", req.CodeChallenge)
	values.Set("code_challenge_method", "S256")
	if req.State != "" {
		values.Set("state", req.State)
	}
	if req.Prompt != "" {
		values.Set("prompt", req.Prompt)
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// fitbitTokenResponse is the raw token endpoint payload.
type fitbitTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	UserID       string `json:"user_id"`
}

// ExchangeCode redeems an authorization code using the PKCE verifier.
func (f *Fitbit) ExchangeCode(ctx context.Context, req ExchangeRequest) (*core.TokenRecord, error) {
	if f.cfg.ClientID == "" {
		return nil, fmt.Errorf("fitbit client id: %w", core.ErrMissingCredential)
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", req.Code)
	form.Set("client_id", f.cfg.ClientID)
	form.Set("redirect_uri", f.cfg.RedirectURI)
	form.Set("code_verifier", req.CodeVerifier)

	return f.tokenRequest(ctx, core.OpExchange, form)
}

// RefreshToken exchanges a refresh token for a new token pair.
func (f *Fitbit) RefreshToken(ctx context.Context, refreshToken string) (*core.TokenRecord, error) {
	if f.cfg.ClientID == "" {
		return nil, fmt.Errorf("fitbit client id: %w", core.ErrMissingCredential)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", f.cfg.ClientID)

	return f.tokenRequest(ctx, core.OpRefresh, form)
}

func (f *Fitbit) tokenRequest(ctx context.Context, op string, form url.Values) (*core.TokenRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fitbit %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read fitbit %s response body: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &core.EndpointError{
			Provider:   NameFitbit,
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	var tokenResp fitbitTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("fitbit %s response: %w: %v", op, core.ErrSchemaMismatch, err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("fitbit %s response missing access_token: %w", op, core.ErrSchemaMismatch)
	}

	return core.FromTokenResponse(core.TokenResponse{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresIn:    tokenResp.ExpiresIn,
		TokenType:    tokenResp.TokenType,
		Scope:        tokenResp.Scope,
		UserID:       tokenResp.UserID,
	}, time.Now()), nil
}
