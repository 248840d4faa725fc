package relay

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/go-training/fitness-relay/pkg/auth"
	"github.com/go-training/fitness-relay/pkg/core"
)

// handleLogin starts the authorization flow and redirects the user out
// to the provider's consent page.
func (s *Server) handleLogin(c *gin.Context) {
	m, ok := s.manager(c)
	if !ok {
		return
	}

	authorizeURL, err := m.Begin(c.Request.Context(), c.Query("prompt"))
	if err != nil {
		if errors.Is(err, core.ErrMissingCredential) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "provider is not configured"})
			return
		}
		core.LoggerFromCtx(c.Request.Context()).Error("failed to start authorization flow",
			"provider", m.Provider().Name(),
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start authorization"})
		return
	}

	c.Redirect(http.StatusFound, authorizeURL)
}

// handleCallback consumes the provider redirect, finishing or failing
// the pending flow.
func (s *Server) handleCallback(c *gin.Context) {
	m, ok := s.manager(c)
	if !ok {
		return
	}

	rec, err := m.Complete(c.Request.Context(), auth.CallbackParams{
		Code:             c.Query("code"),
		State:            c.Query("state"),
		ErrorCode:        c.Query("error"),
		ErrorDescription: c.Query("error_description"),
	})
	if err != nil {
		var denied *core.AuthorizationDeniedError
		switch {
		case errors.As(err, &denied):
			c.JSON(http.StatusForbidden, gin.H{
				"error":             denied.Code,
				"error_description": denied.Description,
			})
		case errors.Is(err, core.ErrStateMismatch):
			c.JSON(http.StatusForbidden, gin.H{"error": "state mismatch"})
		case errors.Is(err, core.ErrMissingPendingState):
			c.JSON(http.StatusBadRequest, gin.H{"error": "no authorization in progress"})
		default:
			core.LoggerFromCtx(c.Request.Context()).Error("callback failed",
				"provider", m.Provider().Name(),
				"error", err,
			)
			c.JSON(http.StatusBadGateway, gin.H{"error": "token exchange failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"provider":  m.Provider().Name(),
		"connected": true,
		"user_id":   rec.UserID,
	})
}

// handleStatus reports the stored connection without touching the
// upstream.
func (s *Server) handleStatus(c *gin.Context) {
	m, ok := s.manager(c)
	if !ok {
		return
	}

	status, err := m.Status(c.Request.Context())
	if err != nil {
		core.LoggerFromCtx(c.Request.Context()).Error("failed to read status",
			"provider", m.Provider().Name(),
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read status"})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, status)
}

// handleDisconnect drops the stored tokens for a provider.
func (s *Server) handleDisconnect(c *gin.Context) {
	m, ok := s.manager(c)
	if !ok {
		return
	}

	if err := m.Disconnect(c.Request.Context()); err != nil {
		core.LoggerFromCtx(c.Request.Context()).Error("failed to disconnect",
			"provider", m.Provider().Name(),
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to disconnect"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"provider":  m.Provider().Name(),
		"connected": false,
	})
}
