package relay

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/go-training/fitness-relay/pkg/provider"
)

// withingsEndpoints maps the client-side endpoint key to the fixed
// upstream path. Withings exposes a handful of RPC paths distinguished
// by an action form parameter instead of REST routes.
var withingsEndpoints = map[string]string{
	"measure":    "/measure",
	"v2-measure": "/v2/measure",
	"v2-sleep":   "/v2/sleep",
	"v2-heart":   "/v2/heart",
}

// withingsRequest is the JSON body the client posts. The outer action
// selects the upstream path; params are re-encoded form-urlencoded
// because the upstream only accepts that encoding. When params carry
// their own action (the RPC verb, e.g. getmeas), it wins over the
// outer one.
type withingsRequest struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// withingsHandler is the protocol adaptation layer for the Withings
// API: action-routed JSON in, form-urlencoded RPC out.
func (s *Server) withingsHandler(p provider.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")

		token := c.GetHeader(p.TokenHeader())
		if token == "" {
			c.String(http.StatusUnauthorized, "Missing %s header", p.TokenHeader())
			return
		}

		var reqBody withingsRequest
		if err := c.ShouldBindJSON(&reqBody); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		endpoint, ok := withingsEndpoints[reqBody.Action]
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown action %q", reqBody.Action)})
			return
		}

		form := url.Values{}
		form.Set("action", reqBody.Action)
		for key, value := range reqBody.Params {
			form.Set(key, formValue(value))
		}

		req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost,
			p.APIBase()+endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid upstream request"})
			return
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		s.forward(c, p.Name(), req)
	}
}

// formValue renders a decoded JSON value as a form parameter. Numbers
// arrive as float64 and must not pick up a decimal point when they are
// integral (Withings expects epoch seconds and type lists as plain
// integers).
func formValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
