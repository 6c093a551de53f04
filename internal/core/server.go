// Package core provides the HTTP chassis of the email worker: a chi router
// serving the status query surface, the health probes and the Prometheus
// scrape endpoint, wrapped in the cross-cutting middleware chain.
package core

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"courier/internal/config"
)

// StatusLookup returns the stored status token for a notification, or
// "unknown". Implemented by *status.Store.
type StatusLookup interface {
	Lookup(ctx context.Context, notificationID string) (string, error)
}

// MetricsCollector records request telemetry.
type MetricsCollector interface {
	RecordRequest(method, route, status string, duration time.Duration)
}

// Server encapsulates the dependencies of the HTTP surface.
type Server struct {
	Config       *config.Config
	Statuses     StatusLookup
	Logger       *slog.Logger
	Metrics      MetricsCollector
	HealthProbes []HealthProbe

	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler

	router *chi.Mux
}

// NewServer validates the required dependencies. Routes are mounted
// separately with MountRoutes so tests can set optional fields first.
func NewServer(cfg *config.Config, statuses StatusLookup, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if statuses == nil {
		return nil, errors.New("status lookup must not be nil")
	}
	if logger == nil {
		return nil, errors.New("logger must not be nil")
	}

	return &Server{
		Config:   cfg,
		Statuses: statuses,
		Logger:   logger,
		router:   chi.NewRouter(),
	}, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down with
// the given grace period.
func (s *Server) ListenAndServe(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.Logger.Info("http server stopped")
	return nil
}
