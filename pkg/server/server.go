package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jykim-lab/maestro/pkg/config"
	"github.com/jykim-lab/maestro/pkg/embedders"
	"github.com/jykim-lab/maestro/pkg/llms"
	"github.com/jykim-lab/maestro/pkg/rag"
	"github.com/jykim-lab/maestro/pkg/runtime"
)

// Deps are the components the HTTP surface exposes.
type Deps struct {
	Runtime  *runtime.Runtime
	Provider llms.ChatProvider
	Embedder embedders.Embedder
	Engine   *rag.Engine
	Query    *rag.QueryService
	Indexer  *rag.Indexer
}

// Server is the HTTP front for the orchestrator: chat endpoints, retrieval
// endpoints, health and metrics.
type Server struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger

	httpServer *http.Server
}

// New builds the server. Retrieval deps may be nil; the rag endpoints then
// answer 503.
func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: slog.Default(),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router assembles the chi router with the middleware stack.
// Order: logging, metrics, cors.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(metricsMiddleware)
	r.Use(s.corsMiddleware)

	r.Post("/api/chat", s.handleChat)
	r.Post("/api/chat/stream", s.handleChatStream)

	r.Post("/rag/query", s.handleRAGQuery)
	r.Post("/rag/index/{docset}", s.handleRAGIndex)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", metricsHandler().ServeHTTP)

	return r
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "address", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Debug("http request",
			"method", r.Method, "path", r.URL.Path,
			"status", wrapped.statusCode, "duration", time.Since(start))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowed := "*"
	if len(s.cfg.Server.CORSOrigins) > 0 {
		allowed = s.cfg.Server.CORSOrigins[0]
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowed)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
