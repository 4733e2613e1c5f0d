// Package server exposes the pipeline and the status registry over HTTP.
//
// Routes:
//
//	POST /trigger                        start (or no-op) a pipeline run
//	GET  /status?key=eco:name:version    current status record
//	GET  /status/stream?key=...          status records as server-sent events
//	GET  /updates/stream?key=edge:<id>   cross-edge change notifications
//	GET  /edges?symbol=<id>              cross edges touching a symbol
//	GET  /graph?key=...                  stored graph artifact
//	GET  /index?key=...                  stored crate index
//	GET  /stats                          registry counters
//	GET  /metrics                        Prometheus metrics
//	GET  /healthz                        liveness
//
// Streams end when the registry's stream TTL elapses. Clients are expected
// to reconnect, see package liveupdate.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matzehuels/symgraph/pkg/buildinfo"
	"github.com/matzehuels/symgraph/pkg/pkgkey"
	"github.com/matzehuels/symgraph/pkg/registry"
	"github.com/matzehuels/symgraph/pkg/storage"
)

// DefaultKeepAlive is the interval between SSE comment frames on idle streams.
const DefaultKeepAlive = 15 * time.Second

// Triggerer starts pipeline runs. *pipeline.Orchestrator satisfies it.
type Triggerer interface {
	Trigger(ctx context.Context, key pkgkey.Key) (registry.Record, error)
}

// Config wires a Server.
type Config struct {
	Registry  *registry.Registry
	Pipeline  Triggerer
	Store     storage.Store
	Metrics   http.Handler
	KeepAlive time.Duration
	Logger    *log.Logger
}

// Server is the HTTP front of a symgraph process.
type Server struct {
	cfg    Config
	logger *log.Logger
	router chi.Router
}

// New builds the router. Registry and Store are required; routes whose
// dependency is nil answer 503.
func New(cfg Config) *Server {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	s := &Server{cfg: cfg, logger: logger}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Post("/trigger", s.handleTrigger)
	r.Get("/status", s.handleStatus)
	r.Get("/status/stream", s.handleStatusStream)
	r.Get("/updates/stream", s.handleUpdatesStream)
	r.Get("/edges", s.handleEdges)
	r.Get("/graph", s.handleArtifact(storage.GraphPath))
	r.Get("/index", s.handleArtifact(storage.IndexPath))
	r.Get("/stats", s.handleStats)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Status string         `json:"status"`
			Build  buildinfo.Info `json:"build"`
		}{"ok", buildinfo.Get()})
	})
	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics)
	}
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully. Open streams are cut after the shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("forced shutdown", "error", err)
		return srv.Close()
	}
	return nil
}

// ListenAndServe listens on addr and calls [Server.Serve].
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Debug("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start).Round(time.Millisecond),
					"request_id", middleware.GetReqID(r.Context()))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
