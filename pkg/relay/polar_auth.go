package relay

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/go-training/fitness-relay/pkg/config"
	"github.com/go-training/fitness-relay/pkg/core"
	"github.com/go-training/fitness-relay/pkg/provider"
)

// polarAuthRequest carries the client-supplied credentials for the
// server-side Polar code exchange. Polar requires Basic client-secret
// auth at the token endpoint, so the exchange cannot run in the
// browser.
type polarAuthRequest struct {
	Code         string `json:"code"`
	RedirectURI  string `json:"redirectUri"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type polarAuthResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	XUserID     string `json:"x_user_id,omitempty"`
}

// handlePolarAuth exchanges the authorization code and registers the
// user with AccessLink in one round trip. Registration failures other
// than 409 are logged and ignored; the caller still gets a usable
// token.
func (s *Server) handlePolarAuth(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	var req polarAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Code == "" || req.RedirectURI == "" || req.ClientID == "" || req.ClientSecret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required parameters"})
		return
	}

	polar := provider.NewPolar(config.Provider{
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		RedirectURI:  req.RedirectURI,
	})

	ctx := c.Request.Context()
	rec, err := polar.ExchangeCode(ctx, provider.ExchangeRequest{Code: req.Code})
	if err != nil {
		var endpointErr *core.EndpointError
		if errors.As(err, &endpointErr) {
			core.LoggerFromCtx(c.Request.Context()).Error("polar token exchange failed",
				"status", endpointErr.StatusCode,
				"body", endpointErr.Body,
			)
			c.JSON(endpointErr.StatusCode, gin.H{"error": "Token exchange failed", "details": endpointErr.Body})
			return
		}
		core.LoggerFromCtx(c.Request.Context()).Error("polar auth error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	// PostExchange never fails the flow.
	polar.PostExchange(ctx, rec)

	expiresIn := int64(time.Until(rec.ExpiresAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	c.JSON(http.StatusOK, polarAuthResponse{
		AccessToken: rec.AccessToken,
		ExpiresIn:   expiresIn,
		TokenType:   rec.TokenType,
		XUserID:     rec.UserID,
	})
}
