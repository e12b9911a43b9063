package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/perfstack/perf-sentinel/internal/archive"
	"github.com/perfstack/perf-sentinel/internal/batch"
	"github.com/perfstack/perf-sentinel/internal/cache"
	"github.com/perfstack/perf-sentinel/internal/detector"
	"github.com/perfstack/perf-sentinel/internal/engine"
	"github.com/perfstack/perf-sentinel/internal/progress"
)

func newTestServer(t *testing.T, root string) (*Server, *progress.Tracker) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracker := progress.NewTracker("", logger)
	e := engine.New(
		archive.NewScanner(root, logger),
		batch.NewOptimizer(10, 3, logger),
		nil,
		detector.New(10, logger),
		cache.NoopProvider{},
		tracker,
		engine.Config{MinSamples: 10},
		logger,
	)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pool := engine.NewPool(ctx, e, 1, 4, logger)
	t.Cleanup(pool.Shutdown)
	return NewServer(":0", pool, tracker, root, logger), tracker
}

func seedRun(t *testing.T, root, runID string) {
	t.Helper()
	dir := filepath.Join(root, "2025-06-01", runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir run: %v", err)
	}
	line := `{"suite":"unixbench","case":"c1","metric":"dhrystone","value":100}` + "\n"
	if err := os.WriteFile(filepath.Join(dir, archive.RunFileName), []byte(line), 0o644); err != nil {
		t.Fatalf("write run: %v", err)
	}
}

func TestAnalyzeRunAccepted(t *testing.T) {
	root := t.TempDir()
	seedRun(t, root, "run_0001")
	srv, tracker := newTestServer(t, root)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/run_0001/analyze", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp analyzeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID == "" || resp.RunID != "run_0001" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if _, ok := tracker.GetProgress(resp.JobID); !ok {
		t.Fatalf("expected job registered in tracker")
	}
}

func TestAnalyzeRunUnknownRun(t *testing.T) {
	srv, _ := newTestServer(t, t.TempDir())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/run_missing/analyze", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAnalyzeRunRejectsBadRunID(t *testing.T) {
	srv, _ := newTestServer(t, t.TempDir())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/run%20bad/analyze", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed run id, got %d", rec.Code)
	}
}

func TestGetJob(t *testing.T) {
	srv, tracker := newTestServer(t, t.TempDir())
	tracker.CreateJob("job-1", 3)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap progress.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.JobID != "job-1" || snap.TotalBatches != 3 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/ghost", nil)
	rec = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}
}

func TestListJobs(t *testing.T) {
	srv, tracker := newTestServer(t, t.TempDir())
	tracker.CreateJob("job-1", 1)
	tracker.CreateJob("job-2", 1)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string][]progress.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body["jobs"]) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(body["jobs"]))
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, t.TempDir())

	for _, path := range []string{"/healthz", "/api/v1/healthz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.httpServer.Handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}
