// Package relay exposes the HTTP surface: the authorization flow routes
// and the per-provider proxy that terminates the custom token header and
// re-issues requests upstream with a standard bearer Authorization.
package relay

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/go-training/fitness-relay/pkg/auth"
	"github.com/go-training/fitness-relay/pkg/core"
	"github.com/go-training/fitness-relay/pkg/provider"
)

// Server wires the provider registry and the token store into a gin
// router.
type Server struct {
	router    *gin.Engine
	providers map[string]provider.Provider
	managers  map[string]*auth.Manager
	store     core.Store
	client    *http.Client
}

// NewServer builds the relay router over a provider registry and store.
func NewServer(providers map[string]provider.Provider, store core.Store) *Server {
	managers := make(map[string]*auth.Manager, len(providers))
	tokenHeaders := make([]string, 0, len(providers))
	for name, p := range providers {
		managers[name] = auth.NewManager(p, store)
		tokenHeaders = append(tokenHeaders, p.TokenHeader())
	}

	s := &Server{
		router:    gin.New(),
		providers: providers,
		managers:  managers,
		store:     store,
		client:    newUpstreamClient(),
	}

	s.router.Use(gin.Recovery())
	s.router.Use(requestIDMiddleware())
	s.router.Use(loggingMiddleware())
	s.router.Use(corsMiddleware(tokenHeaders...))

	s.registerRoutes()
	return s
}

// Handler returns the router for mounting on an http.Server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authGroup := s.router.Group("/auth/:provider")
	authGroup.GET("/login", s.handleLogin)
	authGroup.GET("/callback", s.handleCallback)
	authGroup.GET("/status", s.handleStatus)
	authGroup.POST("/disconnect", s.handleDisconnect)

	fitbit := s.providers[provider.NameFitbit]
	s.router.GET("/api/fitbit/*path", s.proxyHandler(fitbit))
	s.router.POST("/api/fitbit/*path", s.proxyHandler(fitbit))

	// /api/polar/auth shares the catch-all with the generic proxy, so
	// the POST handler dispatches on the path.
	polar := s.providers[provider.NamePolar]
	polarProxy := s.proxyHandler(polar)
	s.router.GET("/api/polar/*path", polarProxy)
	s.router.DELETE("/api/polar/*path", polarProxy)
	s.router.POST("/api/polar/*path", func(c *gin.Context) {
		if strings.TrimSuffix(c.Param("path"), "/") == "/auth" {
			s.handlePolarAuth(c)
			return
		}
		polarProxy(c)
	})

	s.router.POST("/api/withings", s.withingsHandler(s.providers[provider.NameWithings]))
}

// manager resolves the provider named in the route, or writes a 404.
func (s *Server) manager(c *gin.Context) (*auth.Manager, bool) {
	name := c.Param("provider")
	m, ok := s.managers[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return nil, false
	}
	return m, true
}
