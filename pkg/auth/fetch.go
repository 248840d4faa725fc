package auth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const fetchTimeout = 30 * time.Second

// Client issues authorized requests against a provider's data API using
// the tokens the Manager keeps. A request with no usable token fails
// with a synthetic 401 before any upstream I/O. On an upstream 401 the
// client refreshes once and retries only when the refresh produced a
// different token; an identical token would just fail the same way.
type Client struct {
	manager *Manager
	http    *http.Client
}

// NewClient builds an authorized client on top of a Manager.
func NewClient(manager *Manager) *Client {
	return &Client{
		manager: manager,
		http:    &http.Client{Timeout: fetchTimeout},
	}
}

// Response is the upstream result handed back to the caller. Synthetic
// responses (no token available) have Synthetic set and an empty body.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Synthetic   bool
}

// Do performs an authorized request against the provider API. The URL
// must be absolute. At most one retry is attempted, and only after a
// refresh that changed the token.
func (c *Client) Do(ctx context.Context, method, rawURL string, body []byte, contentType string) (*Response, error) {
	token, err := c.manager.ValidAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return &Response{StatusCode: http.StatusUnauthorized, Synthetic: true}, nil
	}

	resp, err := c.roundTrip(ctx, method, rawURL, body, contentType, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// The stored token was rejected upstream. Force it out of its
	// validity window by reloading: if the refresh mints a new token,
	// try once more.
	fresh, err := c.retryToken(ctx, token)
	if err != nil || fresh == "" {
		return resp, err
	}
	return c.roundTrip(ctx, method, rawURL, body, contentType, fresh)
}

// retryToken returns a token worth retrying with, or "" when the retry
// would be pointless.
func (c *Client) retryToken(ctx context.Context, rejected string) (string, error) {
	rec, err := c.manager.store.LoadTokens(ctx, c.manager.provider.Name())
	if err != nil || rec == nil {
		return "", err
	}
	if !c.manager.provider.SupportsRefresh() || rec.RefreshToken == "" {
		return "", nil
	}

	fresh, err := c.manager.provider.RefreshToken(ctx, rec.RefreshToken)
	if err != nil {
		c.manager.log(ctx).Warn("refresh after upstream 401 failed", "error", err)
		return "", nil
	}
	if fresh.AccessToken == rejected {
		return "", nil
	}
	if fresh.UserID == "" {
		fresh.UserID = rec.UserID
	}
	if err := c.manager.store.SaveTokens(ctx, c.manager.provider.Name(), fresh); err != nil {
		return "", fmt.Errorf("failed to save refreshed tokens: %w", err)
	}
	return fresh.AccessToken, nil
}

func (c *Client) roundTrip(ctx context.Context, method, rawURL string, body []byte, contentType, token string) (*Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if len(body) > 0 {
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        respBody,
	}, nil
}
