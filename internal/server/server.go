package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server is the HTTP server for the agent platform API.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	Handlers HandlersDeps

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(cfg.Handlers)

	mux := http.NewServeMux()

	// Agent lifecycle.
	mux.HandleFunc("POST /v1/agents/{agent_id}/trigger", h.HandleTrigger)
	mux.HandleFunc("GET /v1/agents/{agent_id}/feed", h.HandleFeed)
	mux.HandleFunc("PUT /v1/agents/{agent_id}/tier", h.HandleUpdateTier)
	mux.HandleFunc("GET /v1/agents/{agent_id}/energy", h.HandleEnergy)
	mux.HandleFunc("GET /v1/agents/{agent_id}/traces", h.HandleAgentTraces)

	// Observability.
	mux.HandleFunc("GET /v1/traces/recent", h.HandleRecentTraces)
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Handlers.Logger, handler)
	handler = loggingMiddleware(cfg.Handlers.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Handlers.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
