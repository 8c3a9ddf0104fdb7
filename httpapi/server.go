// Package httpapi exposes a node over HTTP.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	idrange "go-idrange"
)

// Node is the part of *idrange.Node the API serves.
type Node interface {
	PeerID() idrange.PeerID
	Pools() []idrange.PoolInfo
	Allocate(ctx context.Context, poolName string, size uint32) (idrange.Range, error)
	AllocEntry(ctx context.Context, poolName string) (uint32, error)
	FreeEntry(ctx context.Context, poolName string, id uint32) error
}

var _ Node = (*idrange.Node)(nil)

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	node       Node
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
}

// NewServer constructs the API for node. gatherer backs /metrics and may be
// nil to omit the endpoint. If the logger is nil, nothing is logged.
func NewServer(addr string, node Node, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var router = chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	var s = &Server{
		router:   router,
		node:     node,
		gatherer: gatherer,
		logger:   logger,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP requests until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Route("/pools", func(r chi.Router) {
		r.Get("/", s.handleListPools)

		r.Route("/{pool}", func(r chi.Router) {
			r.Post("/allocations", s.handleAllocate)
			r.Post("/entries", s.handleAllocEntry)
			r.Delete("/entries/{id}", s.handleFreeEntry)
		})
	})
}
