// Package server provides the XML-RPC front end and the operational HTTP API.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/tabdoc/internal/config"
	"github.com/hyperjump/tabdoc/internal/metrics"
	"github.com/hyperjump/tabdoc/internal/service"
)

// Protocol labels requests served here in metrics and upload history.
const Protocol = "xmlrpc"

// Server is the HTTP server for the XML-RPC endpoint.
type Server struct {
	svc     *service.Service
	config  *config.ServerConfig
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	server  *http.Server
	stopped bool
}

// NewServer creates a server with the given dependencies. m may be nil.
func NewServer(svc *service.Service, cfg *config.ServerConfig, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:     svc,
		config:  cfg,
		metrics: m,
		logger:  logger,
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = config.DefaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Post("/RPC2", s.handleRPC)
	r.Post("/", s.handleRPC)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Get("/status", s.handleStatus)
		r.Get("/uploads", s.handleUploads)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ln.Close()
	}
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("Starting XML-RPC server", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}
