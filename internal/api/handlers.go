package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/perfstack/perf-sentinel/internal/engine"
	"github.com/perfstack/perf-sentinel/internal/progress"
)

// runIDPattern constrains run IDs to archive directory names, which blocks
// path traversal through the URL.
var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

type analyzeResponse struct {
	JobID string `json:"job_id"`
	RunID string `json:"run_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAnalyzeRun queues a run for analysis and returns the job ID. The
// analysis itself happens on the worker pool; clients poll the job endpoint.
func (s *Server) handleAnalyzeRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	if !runIDPattern.MatchString(runID) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid run id"})
		return
	}

	runDir, err := s.resolveRunDir(runID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "run not found: " + runID})
		return
	}

	force := r.URL.Query().Get("force") == "true"

	jobID := uuid.NewString()
	s.tracker.CreateJob(jobID, 0)
	if err := s.pool.Submit(engine.Job{JobID: jobID, RunID: runID, RunDir: runDir, Force: force}); err != nil {
		if errors.Is(err, engine.ErrQueueFull) {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "analysis queue is full"})
			return
		}
		s.logger.Error("could not queue analysis job", "run_id", runID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service is shutting down"})
		return
	}

	s.logger.Info("analysis job queued", "job_id", jobID, "run_id", runID)
	writeJSON(w, http.StatusAccepted, analyzeResponse{JobID: jobID, RunID: runID})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	snap, ok := s.tracker.GetProgress(jobID)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown job: " + jobID})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]progress.Snapshot{"jobs": s.tracker.AllProgress()})
}

// resolveRunDir finds the run directory for a run ID. Runs live one level
// below the archive root, grouped by day.
func (s *Server) resolveRunDir(runID string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(s.archiveRoot, "*", runID))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if info, statErr := os.Stat(m); statErr == nil && info.IsDir() {
			return m, nil
		}
	}
	return "", os.ErrNotExist
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
