package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-training/fitness-relay/pkg/config"
	"github.com/go-training/fitness-relay/pkg/core"
)

func testPolarConfig() config.Provider {
	return config.Provider{
		ClientID:     "pid",
		ClientSecret: "psecret",
		RedirectURI:  "https://app/cb",
		Scope:        "accesslink.read_all",
	}
}

func TestPolar_ExchangeCode(t *testing.T) {
	var gotUser, gotPass string
	var gotOK bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, gotOK = r.BasicAuth()
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		if grant := r.PostForm.Get("grant_type"); grant != "authorization_code" {
			t.Errorf("grant_type = %q", grant)
		}
		if code := r.PostForm.Get("code"); code != "abc" {
			t.Errorf("code = %q", code)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"PAT","token_type":"bearer","expires_in":31536000,"x_user_id":12345678}`))
	}))
	defer server.Close()

	polar := NewPolar(testPolarConfig())
	polar.tokenURL = server.URL

	rec, err := polar.ExchangeCode(context.Background(), ExchangeRequest{Code: "abc"})
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	if !gotOK || gotUser != "pid" || gotPass != "psecret" {
		t.Errorf("basic auth = %q/%q (ok=%v), want pid/psecret", gotUser, gotPass, gotOK)
	}
	if rec.AccessToken != "PAT" {
		t.Errorf("AccessToken = %q, want PAT", rec.AccessToken)
	}
	if rec.RefreshToken != "" {
		t.Errorf("RefreshToken = %q, want empty", rec.RefreshToken)
	}
	if rec.UserID != "12345678" {
		t.Errorf("UserID = %q, want 12345678", rec.UserID)
	}
	if rec.Expired(time.Now()) {
		t.Error("a year-long token should not be expired")
	}
}

func TestPolar_ExchangeCode_ErrorField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer server.Close()

	polar := NewPolar(testPolarConfig())
	polar.tokenURL = server.URL

	_, err := polar.ExchangeCode(context.Background(), ExchangeRequest{Code: "abc"})

	var endpointErr *core.EndpointError
	if !errors.As(err, &endpointErr) {
		t.Fatalf("ExchangeCode() error = %v, want *core.EndpointError", err)
	}
	if endpointErr.Body != "invalid_client" {
		t.Errorf("Body = %q, want invalid_client", endpointErr.Body)
	}
	// The endpoint answered 200; the failure status must not echo it.
	if endpointErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400 for an error field on a 2xx response", endpointErr.StatusCode)
	}
}

func TestPolar_ExchangeCode_MissingSecret(t *testing.T) {
	polar := NewPolar(config.Provider{ClientID: "pid"})

	_, err := polar.ExchangeCode(context.Background(), ExchangeRequest{Code: "abc"})
	if !errors.Is(err, core.ErrMissingCredential) {
		t.Errorf("ExchangeCode() error = %v, want ErrMissingCredential", err)
	}
}

func TestPolar_RefreshToken_Unsupported(t *testing.T) {
	polar := NewPolar(testPolarConfig())

	_, err := polar.RefreshToken(context.Background(), "anything")
	if !errors.Is(err, core.ErrRefreshUnsupported) {
		t.Errorf("RefreshToken() error = %v, want ErrRefreshUnsupported", err)
	}
}

func TestPolar_PostExchange(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantUserID string
	}{
		{
			name:       "registered",
			status:     http.StatusOK,
			body:       `{"polar-user-id":4242,"member-id":"user_abc"}`,
			wantUserID: "4242",
		},
		{
			name:       "already registered",
			status:     http.StatusConflict,
			body:       `{"errors":[{"errorType":"CONFLICT"}]}`,
			wantUserID: "",
		},
		{
			name:       "server error swallowed",
			status:     http.StatusServiceUnavailable,
			body:       `upstream down`,
			wantUserID: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v3/users" {
					t.Errorf("path = %q, want /v3/users", r.URL.Path)
				}
				if auth := r.Header.Get("Authorization"); auth != "Bearer PAT" {
					t.Errorf("Authorization = %q, want Bearer PAT", auth)
				}
				var req map[string]string
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("decode body: %v", err)
				}
				if req["member-id"] == "" {
					t.Error("member-id missing from registration body")
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			polar := NewPolar(testPolarConfig())
			polar.apiBase = server.URL

			rec := &core.TokenRecord{AccessToken: "PAT"}
			if err := polar.PostExchange(context.Background(), rec); err != nil {
				t.Fatalf("PostExchange() error = %v, want nil", err)
			}
			if rec.UserID != tt.wantUserID {
				t.Errorf("UserID = %q, want %q", rec.UserID, tt.wantUserID)
			}
		})
	}
}

func TestPolar_PostExchange_NetworkErrorSwallowed(t *testing.T) {
	polar := NewPolar(testPolarConfig())
	polar.apiBase = "http://127.0.0.1:1" // nothing listens here

	rec := &core.TokenRecord{AccessToken: "PAT"}
	if err := polar.PostExchange(context.Background(), rec); err != nil {
		t.Errorf("PostExchange() error = %v, want nil", err)
	}
}

func TestPolar_PostExchange_KeepsExistingUserID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"polar-user-id":999}`))
	}))
	defer server.Close()

	polar := NewPolar(testPolarConfig())
	polar.apiBase = server.URL

	rec := &core.TokenRecord{AccessToken: "PAT", UserID: "12345678"}
	if err := polar.PostExchange(context.Background(), rec); err != nil {
		t.Fatalf("PostExchange() error = %v", err)
	}
	if rec.UserID != "12345678" {
		t.Errorf("UserID = %q, want the token exchange value preserved", rec.UserID)
	}
}
