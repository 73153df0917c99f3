// Package server implements the HTTP API, health probes and the metrics
// endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds listener settings.
type Config struct {
	Port         int
	MetricsPort  int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server runs the API listener and a separate metrics listener.
type Server struct {
	apiServer     *http.Server
	metricsServer *http.Server
	logger        *slog.Logger
}

// NewServer creates a new HTTP server pair. A zero MetricsPort disables the
// metrics listener.
func NewServer(cfg Config, api http.Handler, registry *prometheus.Registry, logger *slog.Logger) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	s := &Server{
		apiServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      api,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.ReadTimeout * 4,
		},
		logger: logger.With("component", "http"),
	}

	if cfg.MetricsPort > 0 && registry != nil {
		s.metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:      MetricsHandler(registry),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	return s
}

// MetricsHandler serves the registry at /metrics.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	return mux
}

// Start starts both listeners in the background. Listener failures are sent
// on the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 2)

	serve := func(name string, srv *http.Server) {
		s.logger.Info("starting server", "server", name, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server failed", "server", name, "error", err)
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
	}

	go serve("api", s.apiServer)
	if s.metricsServer != nil {
		go serve("metrics", s.metricsServer)
	}

	return errCh
}

// Shutdown gracefully drains both servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP servers")

	servers := []*http.Server{s.apiServer}
	if s.metricsServer != nil {
		servers = append(servers, s.metricsServer)
	}

	errChan := make(chan error, len(servers))
	for _, srv := range servers {
		go func() {
			errChan <- srv.Shutdown(ctx)
		}()
	}

	var errs []error
	for range servers {
		if err := <-errChan; err != nil {
			s.logger.Error("error shutting down server", "error", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
