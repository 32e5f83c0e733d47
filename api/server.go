package api

import (
	"context"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/zap"

	"annod/lib/pool"
)

// --------------------------------------------------------------------------
// Server Configuration
// --------------------------------------------------------------------------

// Config holds the HTTP layer's immutable settings.
type Config struct {
	// Bind is the host:port the server listens on.
	Bind string
	// Debug enables per-request logging.
	Debug bool
}

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// Server is the request dispatcher over one store pool.
type Server struct {
	pool   *pool.Pool
	cfg    Config
	logger *zap.Logger
	http   *http.Server
}

// New creates the server and wires up all routes.
//
// Usage:
//
//	s := api.New(pool, cfg, logger)
//	if err := s.ListenAndServe(); err != nil {
//		panic(err)
//	}
func New(p *pool.Pool, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		pool:   p,
		cfg:    cfg,
		logger: logger.Named("api"),
	}
	s.http = &http.Server{
		Addr:              cfg.Bind,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the route table. Exposed so tests can drive the full
// dispatch path through httptest without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	mux.HandleFunc("POST /query", s.handleQueryForm)
	mux.HandleFunc("GET /{store}/{$}", s.handleQueryGet)
	mux.HandleFunc("POST /{store}", s.handleCreateStore)

	mux.HandleFunc("GET /{store}/annotations", s.handleAnnotationList)
	mux.HandleFunc("GET /{store}/annotations/{id}", s.handleAnnotationGet)

	mux.HandleFunc("GET /{store}/resources", s.handleResourceList)
	mux.HandleFunc("GET /{store}/resources/{id}", s.handleResourceGet)
	mux.HandleFunc("POST /{store}/resources/{id}", s.handleResourceCreate)
	mux.HandleFunc("GET /{store}/resources/{id}/{begin}/{end}", s.handleResourceSlice)

	return s.instrument(mux)
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", zap.String("bind", s.cfg.Bind))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
