package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BadgerOps/mirrorswitch/internal/config"
	"github.com/BadgerOps/mirrorswitch/internal/locator"
	"github.com/BadgerOps/mirrorswitch/internal/resolve"
	"github.com/BadgerOps/mirrorswitch/internal/store"
)

// requestTimeout bounds every request, including mirror races.
const requestTimeout = 2 * time.Minute

// Server is the admin and resolution HTTP API.
type Server struct {
	locator    *locator.Service
	resolver   *resolve.Resolver
	store      *store.Store
	config     *config.Config
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new Server instance. st and gatherer may be nil; the
// activation history and /metrics routes then report them as unavailable.
func NewServer(
	svc *locator.Service,
	res *resolve.Resolver,
	st *store.Store,
	cfg *config.Config,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Server{
		locator:  svc,
		resolver: res,
		store:    st,
		config:   cfg,
		gatherer: gatherer,
		logger:   logger,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(accessLog(s.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleGetStatus)
		r.Put("/status", s.handleSetStatus)

		r.Get("/mirrors", s.handleListMirrors)
		r.Post("/mirrors", s.handleRegisterMirror)
		r.Delete("/mirrors", s.handleRemoveMirror)

		r.Post("/select", s.handleSelect)
		r.Post("/activate", s.handleActivate)
		r.Post("/resolve", s.handleResolve)
		r.Post("/resolve/batch", s.handleResolveBatch)
		r.Get("/activations", s.handleListActivations)
	})

	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// Start starts the HTTP server on the given listen address and blocks
// until it stops.
func (s *Server) Start(listenAddr string) error {
	s.httpServer = &http.Server{
		Addr:              listenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("starting HTTP server", "addr", listenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
