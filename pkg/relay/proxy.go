package relay

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/go-training/fitness-relay/pkg/core"
	"github.com/go-training/fitness-relay/pkg/provider"
)

const upstreamTimeout = 30 * time.Second

func newUpstreamClient() *http.Client {
	return &http.Client{Timeout: upstreamTimeout}
}

// proxyHandler forwards the request to the provider's data API. The
// bearer credential arrives in the provider's custom header and is
// re-issued upstream as a standard Authorization header; its absence is
// rejected before any upstream I/O.
func (s *Server) proxyHandler(p provider.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")

		token := c.GetHeader(p.TokenHeader())
		if token == "" {
			c.String(http.StatusUnauthorized, "Missing %s header", p.TokenHeader())
			return
		}

		upstreamURL := p.APIBase() + encodePath(c.Param("path"))
		if raw := c.Request.URL.RawQuery; raw != "" {
			upstreamURL += "?" + raw
		}

		var body io.Reader
		if c.Request.Body != nil {
			body = c.Request.Body
		}

		req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, upstreamURL, body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid upstream path"})
			return
		}
		req.Header.Set("Authorization", "Bearer "+token)

		contentType := c.GetHeader("Content-Type")
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")

		s.forward(c, p.Name(), req)
	}
}

// forward performs the upstream exchange and echoes status, body, and
// Content-Type back unchanged.
func (s *Server) forward(c *gin.Context, providerName string, req *http.Request) {
	resp, err := s.client.Do(req)
	if err != nil {
		core.LoggerFromCtx(c.Request.Context()).Error("upstream request failed",
			"provider", providerName,
			"url", req.URL.String(),
			"error", err,
		)
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream request failed"})
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		core.LoggerFromCtx(c.Request.Context()).Error("failed to read upstream response",
			"provider", providerName,
			"error", err,
		)
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream response unreadable"})
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, respBody)
}

// encodePath re-encodes each path segment individually so reserved
// characters inside a segment survive the round trip without letting a
// crafted segment escape the upstream base.
func encodePath(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return "/" + strings.Join(segments, "/")
}
