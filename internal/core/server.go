// Package core provides the API chassis for the daybook service. It creates
// the chi router and enforces cross-cutting concerns -- request identity,
// logging, panic recovery, and operator authentication -- before requests
// reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"daybook/internal/config"
)

// Server encapsulates the HTTP-facing dependencies of the service, allowing
// for easy injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	HealthProbes []HealthProbe

	router    *chi.Mux
	http      *http.Server
	startedAt time.Time
}

// NewServer initializes the router and prepares the server for route
// mounting. The caller mounts routes (via MountRoutes) after construction;
// the separation lets tests customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		router:    chi.NewRouter(),
		startedAt: time.Now(),
	}

	return s, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ListenAndServe starts the HTTP listener on the configured port and blocks
// until the listener stops.
func (s *Server) ListenAndServe() error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: s.Config.Server.ReadHeaderTimeout,
	}
	s.Logger.Info("http listener starting", "addr", s.http.Addr)

	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown performs a graceful termination of the HTTP listener, draining
// in-flight requests up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutting down http listener: %w", err)
		}
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
