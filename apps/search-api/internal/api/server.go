// Package api exposes the search engine over HTTP
package api

import (
	"context"
	"net/http"

	"github.com/DjangoSpop/promptemple-sub000/apps/search-api/internal/core"
	"github.com/DjangoSpop/promptemple-sub000/pkg/config"
	"github.com/DjangoSpop/promptemple-sub000/pkg/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the API server
type Server struct {
	router        *gin.Engine
	server        *http.Server
	services      *core.Services
	healthChecker *HealthChecker
	logger        observability.Logger
}

// NewServer creates a new API server. registry may be nil, in which case
// /metrics is not served.
func NewServer(services *core.Services, cfg config.APIConfig, registry *prometheus.Registry, logger observability.Logger) *Server {
	if logger == nil {
		logger = observability.NewLogger("api-server")
	}
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	router := gin.New()
	router.Use(RequestID())
	router.Use(Recovery(logger))
	router.Use(RequestLogger(logger))

	s := &Server{
		router:        router,
		services:      services,
		healthChecker: NewHealthChecker(cfg.RequestTimeout),
		logger:        logger,
		server: &http.Server{
			Addr:         cfg.ListenAddress,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}

	s.healthChecker.RegisterCheck("cache", services.Cache.Ping)
	s.healthChecker.RegisterCheck("catalog", services.Catalog.Ping)

	s.setupRoutes(cfg, registry)
	return s
}

func (s *Server) setupRoutes(cfg config.APIConfig, registry *prometheus.Registry) {
	s.router.GET("/health", s.healthChecker.HealthHandler)
	s.router.GET("/healthz", s.healthChecker.LivenessHandler)
	if registry != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	v1 := s.router.Group("/api/v1")
	v1.Use(Timeout(cfg.RequestTimeout))
	{
		v1.GET("/search", s.Search)
		v1.GET("/search/intent/:intent", s.SearchByIntent)
		v1.GET("/featured", s.Featured)
		v1.GET("/items/:id/similar", s.Similar)
		v1.GET("/sessions/:id/recent", s.RecentQueries)
	}

	ops := s.router.Group("/ops")
	{
		ops.GET("/cache/stats", s.CacheStats)
		ops.POST("/cache/invalidate", s.InvalidateCatalog)
		ops.GET("/performance", s.Performance)
		ops.GET("/recommendations", s.Recommendations)
	}
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetReady marks the server as ready to serve traffic
func (s *Server) SetReady(ready bool) {
	s.healthChecker.SetReady(ready)
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info("Starting API server", map[string]interface{}{
		"address": s.server.Addr,
	})
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.SetReady(false)
	return s.server.Shutdown(ctx)
}
