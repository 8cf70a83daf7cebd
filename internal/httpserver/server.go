package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/subwatch/frontpage-mirror/internal/domain"
)

// Server exposes health, status, and metrics endpoints for the bot.
type Server struct {
	store      domain.SortedSetStore
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates the HTTP server on the given listen address.
func NewServer(addr string, store domain.SortedSetStore, logger *slog.Logger) *Server {
	s := &Server{
		store:  store,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      withLogging(logger, mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tracked, err := s.store.ZCard(ctx, domain.SetCurrentRanks)
	if err != nil {
		s.logger.Error("failed to read rank registry size", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to read store")
		return
	}
	pending, err := s.store.ZCard(ctx, domain.SetPendingQueue)
	if err != nil {
		s.logger.Error("failed to read queue size", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to read store")
		return
	}
	cleanup, err := s.store.ZCard(ctx, domain.SetCleanup)
	if err != nil {
		s.logger.Error("failed to read cleanup registry size", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to read store")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{
		"tracked_posts":   tracked,
		"pending_checks":  pending,
		"cleanup_entries": cleanup,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
