package core

import (
	"github.com/go-chi/chi/v5"
)

// V1RouteRegistrar registers a group of domain routes under /v1. Handler
// packages provide registrars to the entry point, which hands them to the
// server; this indirection avoids import cycles between core and handlers.
type V1RouteRegistrar func(r chi.Router)

// defaultRedactedHeaders lists header names whose values are masked in
// request logs to prevent accidental leakage of credentials.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
}

// MountRoutes defines the top-level routing hierarchy. It registers the
// global middleware chain, the /v1 group, and the health check.
func (s *Server) MountRoutes(registrars ...V1RouteRegistrar) {
	s.registerGlobalMiddleware()

	s.router.Route("/v1", func(r chi.Router) {
		for _, registrar := range registrars {
			registrar(r)
		}
	})

	s.router.Get("/health", s.HandleHealth)
}

// registerGlobalMiddleware applies middleware in strict order.
//
// Ordering rationale:
//  1. Recoverer      - Catches panics; outermost to catch all failures.
//  2. RequestID      - Generates/propagates correlation ID for tracing.
//  3. RequestLogger  - Structured logging (redacted headers).
//
// Operator authentication is applied per-route-group by the handler
// registrars, not globally; the status and health endpoints stay public.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestID)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
}
