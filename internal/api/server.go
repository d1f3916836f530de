package api

import (
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server represents the HTTP server with all dependencies.
type Server struct {
	router *chi.Mux
	api    huma.API
}

// Config holds the dependencies of the HTTP server.
type Config struct {
	DB          DBClient
	Engine      Engine
	Sweeper     SweepRunner
	Events      EventSource
	RateLimiter *RateLimiter // optional
	Metrics     http.Handler // optional, served at /metrics
}

// NewServer wires the services and registers all routes.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.DB == nil || cfg.Engine == nil || cfg.Sweeper == nil || cfg.Events == nil {
		return nil, fmt.Errorf("database, billing engine, sweeper and event source are required")
	}

	router := chi.NewRouter()

	// Global middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(RecoveryMiddleware)
	router.Use(LoggingMiddleware)

	services := &Services{
		Account:     NewAccountService(cfg.DB),
		Billing:     NewBillingService(cfg.DB, cfg.Engine),
		Server:      NewServerService(cfg.DB, cfg.Engine),
		Admin:       NewAdminService(cfg.DB, cfg.Sweeper),
		DB:          cfg.DB,
		RateLimiter: cfg.RateLimiter,
	}

	humaAPI := RegisterRoutes(router, services)

	router.With(AuthMiddleware(cfg.DB)).Get("/v1/events", EventsHandler(cfg.Events))

	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics)
	}

	return &Server{router: router, api: humaAPI}, nil
}

// Router returns the chi router instance for use with http.Server.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// API returns the huma API, mainly for inspecting the OpenAPI document.
func (s *Server) API() huma.API {
	return s.api
}
