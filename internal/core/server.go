// Package core provides the HTTP chassis of the forum API: a chi router
// with the shared middleware chain (panic recovery, request ids, request
// logging, compression, caller identity) and the JSON response helpers the
// handlers use. Domain routes are attached by cmd/api through
// V1RouteRegistrars.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"quora/internal/config"
)

// Server holds the router and the dependencies shared by all handlers.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// HealthProbes are run by GET /health.
	HealthProbes []HealthProbe

	// V1RouteRegistrars mount domain routes under /v1. They run inside the
	// identity-checked group.
	V1RouteRegistrars []func(chi.Router)

	// Closers run on Shutdown in registration order.
	Closers []func() error

	router *chi.Mux
}

// NewServer creates a Server. MountRoutes must be called once the
// registrars are in place.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases the registered resources. The first error is returned
// after every closer has run.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	var first error
	for _, closer := range s.Closers {
		if err := closer(); err != nil {
			s.Logger.ErrorContext(ctx, "error closing server resource", "error", err)
			if first == nil {
				first = err
			}
		}
	}
	if first != nil {
		return fmt.Errorf("closing server resources: %w", first)
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
