// Package api exposes the analysis service over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/perfstack/perf-sentinel/internal/engine"
	"github.com/perfstack/perf-sentinel/internal/progress"
)

// Server hosts the REST endpoints for submitting runs and polling jobs.
type Server struct {
	pool        *engine.Pool
	tracker     *progress.Tracker
	archiveRoot string
	logger      *slog.Logger
	httpServer  *http.Server
}

// NewServer wires the router. Run directories are resolved under archiveRoot;
// clients never supply paths directly.
func NewServer(addr string, pool *engine.Pool, tracker *progress.Tracker, archiveRoot string, logger *slog.Logger) *Server {
	s := &Server{
		pool:        pool,
		tracker:     tracker,
		archiveRoot: archiveRoot,
		logger:      logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	apiV1.HandleFunc("/runs/{run_id}/analyze", s.handleAnalyzeRun).Methods(http.MethodPost)
	apiV1.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	apiV1.HandleFunc("/jobs/{job_id}", s.handleGetJob).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start begins serving and blocks until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "address", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
