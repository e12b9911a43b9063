// Package engine runs the end-to-end analysis pipeline: read a run, build
// baselines, batch the entries, analyze each batch, and write the results
// back into the run directory.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/perfstack/perf-sentinel/internal/analysis"
	"github.com/perfstack/perf-sentinel/internal/archive"
	"github.com/perfstack/perf-sentinel/internal/batch"
	"github.com/perfstack/perf-sentinel/internal/cache"
	"github.com/perfstack/perf-sentinel/internal/detector"
	"github.com/perfstack/perf-sentinel/internal/metrics"
	"github.com/perfstack/perf-sentinel/internal/models"
	"github.com/perfstack/perf-sentinel/internal/progress"
	"github.com/perfstack/perf-sentinel/internal/utils"
)

// batchPacing is the gap between consecutive model calls; cache hits skip it.
const batchPacing = 500 * time.Millisecond

// Engine orchestrates one analysis run per job.
type Engine struct {
	scanner   *archive.Scanner
	optimizer *batch.Optimizer
	provider  analysis.Provider
	fallback  *detector.Detector
	cache     cache.Provider
	tracker   *progress.Tracker
	logger    *slog.Logger

	minSamples int
	maxSamples int
	resultTTL  time.Duration

	sleep func(time.Duration)
}

// Config carries the engine's tunables.
type Config struct {
	MinSamples int
	MaxSamples int
	ResultTTL  time.Duration
}

// New assembles the pipeline. The cache provider may be a NoopProvider; the
// analysis provider decides per batch whether a model or the statistical
// fallback answers.
func New(scanner *archive.Scanner, optimizer *batch.Optimizer, provider analysis.Provider,
	fallback *detector.Detector, cacheProvider cache.Provider, tracker *progress.Tracker,
	cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		scanner:    scanner,
		optimizer:  optimizer,
		provider:   provider,
		fallback:   fallback,
		cache:      cacheProvider,
		tracker:    tracker,
		logger:     logger,
		minSamples: cfg.MinSamples,
		maxSamples: cfg.MaxSamples,
		resultTTL:  cfg.ResultTTL,
		sleep:      time.Sleep,
	}
}

// AnalyzeRun processes one run directory. Results are written to the run
// directory only after every batch is resolved, so a partially analyzed run
// never leaves truncated files behind.
func (e *Engine) AnalyzeRun(ctx context.Context, job Job) error {
	started := time.Now()
	err := e.analyzeRun(ctx, job)
	if err != nil {
		metrics.ObserveRun("error", time.Since(started))
		msg := err.Error()
		failed := progress.StatusFailed
		e.tracker.UpdateProgress(job.JobID, progress.Update{Status: &failed, ErrorMessage: &msg})
		return err
	}
	metrics.ObserveRun("success", time.Since(started))
	return nil
}

func (e *Engine) analyzeRun(ctx context.Context, job Job) error {
	jobID, runID, runDir := job.JobID, job.RunID, job.RunDir

	running := progress.StatusRunning
	e.tracker.UpdateProgress(jobID, progress.Update{Status: &running})

	// An already analyzed run is reused as-is unless a re-run was forced.
	if !job.Force {
		existing, err := archive.ReadExistingAnomalies(runDir)
		if err == nil && len(existing) > 0 {
			e.logger.Info("run already analyzed, reusing results",
				"run_id", runID, "anomalies", len(existing))
			e.complete(jobID, len(existing))
			return nil
		}
	}

	entries, err := archive.ReadRunEntries(runDir)
	if err != nil {
		return &utils.AppError{Op: "engine.analyze", Msg: "read run entries", Err: err}
	}
	if len(entries) == 0 {
		e.logger.Warn("run has no entries", "run_id", runID, "run_dir", runDir)
		if err := archive.WriteRunResults(runDir, []models.AnomalyRecord{}, models.Summarize(nil)); err != nil {
			return err
		}
		e.complete(jobID, 0)
		return nil
	}

	keys := make([]models.MetricKey, 0, len(entries))
	for _, en := range entries {
		keys = append(keys, en.Key())
	}
	history, err := e.scanner.BuildHistory(keys, e.minSamples, e.maxSamples)
	if err != nil {
		return &utils.AppError{Op: "engine.analyze", Msg: "build baseline history", Err: err}
	}

	batches := e.optimizer.Optimize(entries, history)
	total := len(batches)
	e.tracker.UpdateProgress(jobID, progress.Update{TotalBatches: &total})
	e.logger.Info("run batched", "run_id", runID, "entries", len(entries), "batches", total)

	results := make([]models.AnalysisResult, 0, total)
	for i, b := range batches {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res, cached, err := e.analyzeBatch(ctx, runID, b)
		if err != nil {
			return err
		}
		results = append(results, res)

		done := i + 1
		engineName := res.Summary.AnalysisEngine.Name
		e.tracker.UpdateProgress(jobID, progress.Update{
			CurrentBatch: &done,
			CurrentModel: &engineName,
		})
		if err := archive.AppendBatchLog(runDir, archive.BatchLogRecord{
			Time:      time.Now().UTC().Format(time.RFC3339),
			BatchID:   b.ID,
			Engine:    engineName,
			Anomalies: len(res.Anomalies),
			Cached:    cached,
		}); err != nil {
			e.logger.Warn("could not journal batch", "run_id", runID, "batch_id", b.ID, "error", err)
		}

		// Pace real model calls; cache hits cost nothing upstream.
		if !cached && done < total {
			e.sleep(batchPacing)
		}
	}

	merged := batch.MergeResults(results)
	for _, a := range merged.Anomalies {
		metrics.IncAnomaly(string(a.Severity))
	}
	if err := archive.WriteRunResults(runDir, merged.Anomalies, merged.Summary); err != nil {
		return &utils.AppError{Op: "engine.analyze", Msg: "write run results", Err: err}
	}

	e.logger.Info("run analyzed",
		"run_id", runID,
		"anomalies", len(merged.Anomalies),
		"engine", merged.Summary.AnalysisEngine.Name,
		"degraded", merged.Summary.AnalysisEngine.Degraded)
	e.complete(jobID, len(merged.Anomalies))
	return nil
}

// analyzeBatch resolves one batch via cache, model, or statistical fallback.
func (e *Engine) analyzeBatch(ctx context.Context, runID string, b batch.Batch) (models.AnalysisResult, bool, error) {
	started := time.Now()
	cacheKey := "batch:" + b.ID

	if raw, err := e.cache.Get(ctx, cacheKey); err == nil {
		var res models.AnalysisResult
		if jsonErr := json.Unmarshal(raw, &res); jsonErr == nil {
			e.logger.Debug("batch cache hit", "run_id", runID, "batch_id", b.ID)
			metrics.ObserveBatch(true, time.Since(started))
			return res, true, nil
		}
		_ = e.cache.Del(ctx, cacheKey)
	}

	var res models.AnalysisResult
	if e.provider != nil && e.provider.Enabled() {
		var err error
		res, err = e.provider.Analyze(ctx, runID, b.ID, b)
		if err != nil {
			return models.AnalysisResult{}, false, err
		}
	} else {
		res = e.heuristic(b)
	}

	if raw, err := json.Marshal(res); err == nil {
		if err := e.cache.Set(ctx, cacheKey, raw, e.resultTTL); err != nil {
			e.logger.Warn("could not cache batch result", "batch_id", b.ID, "error", err)
		}
	}
	metrics.ObserveBatch(false, time.Since(started))
	return res, false, nil
}

// heuristic answers a batch with the statistical detector when no model
// backend is configured.
func (e *Engine) heuristic(b batch.Batch) models.AnalysisResult {
	history := make(map[models.MetricKey][]float64, len(b.History))
	for k, v := range b.History {
		key, err := models.ParseMetricKey(k)
		if err != nil {
			continue
		}
		history[key] = v
	}
	metrics.IncFallback()
	res := e.fallback.Fallback(b.Entries, history)
	res.Summary.AnalysisEngine = models.AnalysisEngine{Name: "heuristic", Version: "n/a", Degraded: true}
	return res
}

func (e *Engine) complete(jobID string, anomalies int) {
	completed := progress.StatusCompleted
	e.tracker.UpdateProgress(jobID, progress.Update{
		Status:  &completed,
		Details: map[string]any{"anomalies": anomalies},
	})
}
