package analysis

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/perfstack/perf-sentinel/internal/batch"
	"github.com/perfstack/perf-sentinel/internal/detector"
	"github.com/perfstack/perf-sentinel/internal/metrics"
	"github.com/perfstack/perf-sentinel/internal/models"
	"github.com/perfstack/perf-sentinel/internal/utils"
)

// Provider analyzes one batch of benchmark entries.
type Provider interface {
	Enabled() bool
	Analyze(ctx context.Context, runID, groupID string, b batch.Batch) (models.AnalysisResult, error)
}

const (
	// maxEndpointAttempts bounds how many endpoints one batch may rotate
	// through before falling back to the heuristic detector.
	maxEndpointAttempts = 3
	// endpointSpacing is the minimum gap before reusing the same endpoint.
	endpointSpacing = 500 * time.Millisecond
	// maxEndpointErrors disables an endpoint until the global health reset.
	maxEndpointErrors = 5

	transportAttempts = 6
	initialBackoff    = 5 * time.Second
	maxBackoff        = 60 * time.Second
)

var retryAfterNumeric = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)?`)

// Orchestrator drives model-backed analysis across configured endpoints and
// degrades to the statistical detector when every endpoint fails.
type Orchestrator struct {
	// mu guards endpoint counters and use times. One orchestrator is shared
	// by every pool worker, so selection and outcome bookkeeping must not
	// interleave.
	mu        sync.Mutex
	endpoints []*Endpoint
	runCtx    RunContext
	heuristic *detector.Detector
	latencies *utils.LatencyTracker
	logger    *slog.Logger

	// Injected for tests; production uses the real clock.
	sleep func(time.Duration)
	now   func() time.Time
}

// NewOrchestrator wires the configured endpoints, sorted by priority.
// An empty endpoint list is valid; Analyze then reports not-enabled.
func NewOrchestrator(endpoints []*Endpoint, runCtx RunContext, heuristic *detector.Detector, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	eps := make([]*Endpoint, len(endpoints))
	copy(eps, endpoints)
	for _, ep := range eps {
		ep.init()
	}
	sort.SliceStable(eps, func(i, j int) bool { return eps[i].Priority < eps[j].Priority })
	return &Orchestrator{
		endpoints: eps,
		runCtx:    runCtx,
		heuristic: heuristic,
		latencies: utils.NewLatencyTracker(1024),
		logger:    logger,
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

// Enabled reports whether any endpoint can take traffic.
func (o *Orchestrator) Enabled() bool {
	for _, ep := range o.endpoints {
		if ep.Enabled {
			return true
		}
	}
	return false
}

// acquireEndpoint selects the next endpoint and stamps its use time in one
// critical section, so two workers cannot pick from a half-updated pool.
func (o *Orchestrator) acquireEndpoint() *Endpoint {
	o.mu.Lock()
	defer o.mu.Unlock()
	ep := o.selectEndpoint()
	if ep != nil {
		ep.lastUsed = o.now()
	}
	return ep
}

// recordOutcome updates an endpoint's health counters. Callers hold no lock.
func (o *Orchestrator) recordOutcome(ep *Endpoint, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !ok {
		ep.errorCount++
		return
	}
	ep.successCount++
	if ep.errorCount > 0 {
		ep.errorCount--
	}
}

// selectEndpoint picks the healthiest candidate; o.mu must be held. When every
// endpoint has been error-disabled, all error counts reset so a transient
// outage does not permanently exhaust the pool. An endpoint used within the
// spacing window is passed over if a rested alternative exists.
func (o *Orchestrator) selectEndpoint() *Endpoint {
	candidates := o.healthy()
	if len(candidates) == 0 {
		for _, ep := range o.endpoints {
			ep.errorCount = 0
		}
		candidates = o.healthy()
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.successCount != b.successCount {
			return a.successCount > b.successCount
		}
		return a.errorCount < b.errorCount
	})

	now := o.now()
	for _, ep := range candidates {
		if now.Sub(ep.lastUsed) >= endpointSpacing {
			return ep
		}
	}
	return candidates[0]
}

func (o *Orchestrator) healthy() []*Endpoint {
	var out []*Endpoint
	for _, ep := range o.endpoints {
		if ep.Enabled && ep.errorCount < maxEndpointErrors {
			out = append(out, ep)
		}
	}
	return out
}

// Analyze submits one batch, rotating endpoints on failure. After the attempt
// budget is spent it returns the heuristic fallback tagged as degraded rather
// than an error, so a run always produces a result per batch.
func (o *Orchestrator) Analyze(ctx context.Context, runID, groupID string, b batch.Batch) (models.AnalysisResult, error) {
	for attempt := 0; attempt < maxEndpointAttempts; attempt++ {
		if attempt > 0 {
			o.sleep(time.Duration(math.Pow(2, float64(attempt))) * time.Second)
		}
		ep := o.acquireEndpoint()
		if ep == nil {
			break
		}

		callStart := o.now()
		res, err := o.callEndpoint(ctx, ep, runID, groupID, b)
		o.observeLatency(o.now().Sub(callStart))
		o.recordOutcome(ep, err == nil)
		if err != nil {
			metrics.IncEndpointCall(ep.Name, "error")
			o.logger.Warn("analysis endpoint failed",
				"endpoint", ep.Name, "group_id", groupID, "attempt", attempt+1, "error", err)
			if ctx.Err() != nil {
				return models.AnalysisResult{}, ctx.Err()
			}
			continue
		}

		metrics.IncEndpointCall(ep.Name, "success")
		res.Summary.AnalysisEngine = models.AnalysisEngine{Name: ep.Name, Version: ep.Model}
		return res, nil
	}

	o.logger.Warn("all analysis endpoints exhausted, using heuristic fallback",
		"run_id", runID, "group_id", groupID)
	return o.Fallback(b), nil
}

// observeLatency records a model call duration and periodically surfaces the
// p95 so slow backends show up in the logs before they trip timeouts.
func (o *Orchestrator) observeLatency(d time.Duration) {
	o.latencies.Observe(d)
	if count := o.latencies.Count(); count >= 20 && count%20 == 0 {
		o.logger.Info("analysis call latency", "count", count, "p95", o.latencies.Percentile(95))
	}
}

// Fallback runs the statistical detector over the batch and tags the result
// as degraded.
func (o *Orchestrator) Fallback(b batch.Batch) models.AnalysisResult {
	history := make(map[models.MetricKey][]float64, len(b.History))
	for k, v := range b.History {
		key, err := models.ParseMetricKey(k)
		if err != nil {
			continue
		}
		history[key] = v
	}
	metrics.IncFallback()
	res := o.heuristic.Fallback(b.Entries, history)
	res.Summary.AnalysisEngine = models.AnalysisEngine{Name: "heuristic", Version: "n/a", Degraded: true}
	return res
}

// callEndpoint performs one analysis call including transport-level retries
// for rate limits and server errors. Auth failures and malformed requests
// surface immediately so the caller can rotate endpoints.
func (o *Orchestrator) callEndpoint(ctx context.Context, ep *Endpoint, runID, groupID string, b batch.Batch) (models.AnalysisResult, error) {
	body, err := buildRequestBody(ep.Model, runID, groupID, b, o.runCtx)
	if err != nil {
		return models.AnalysisResult{}, &utils.AppError{Op: "analysis.request", Msg: "marshal request", Err: err}
	}

	backoff := initialBackoff
	for attempt := 0; attempt < transportAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.chatCompletionsURL(), bytes.NewReader(body))
		if err != nil {
			return models.AnalysisResult{}, &utils.AppError{Op: "analysis.request", Msg: "build request", Err: err}
		}
		req.Header.Set("Content-Type", "application/json")
		if ep.hasCredential() {
			req.Header.Set("Authorization", "Bearer "+ep.APIKey)
		}

		resp, err := ep.client.Do(req)
		if err != nil {
			return models.AnalysisResult{}, &utils.AppError{Op: "analysis.call", Msg: "endpoint " + ep.Name, Err: err}
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return models.AnalysisResult{}, &utils.AppError{Op: "analysis.call", Msg: "read response from " + ep.Name, Err: readErr}
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			wait := retryAfterDelay(resp.Header.Get("Retry-After"), backoff)
			o.logger.Debug("endpoint throttled, retrying",
				"endpoint", ep.Name, "status", resp.StatusCode, "wait", wait, "attempt", attempt+1)
			o.sleep(wait)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return models.AnalysisResult{}, &utils.AppError{
				Op:  "analysis.call",
				Msg: fmt.Sprintf("endpoint %s returned status %d", ep.Name, resp.StatusCode),
			}
		}

		res := parseResult(respBody)
		postProcess(&res, b)
		return res, nil
	}

	return models.AnalysisResult{}, &utils.AppError{
		Op:  "analysis.call",
		Msg: fmt.Sprintf("endpoint %s still throttled after %d attempts", ep.Name, transportAttempts),
	}
}

// retryAfterDelay honors a numeric Retry-After header, tolerating units or
// other trailing text by taking the leading numeric token. A missing or
// unparseable header falls back to the current backoff.
func retryAfterDelay(header string, fallback time.Duration) time.Duration {
	if header == "" {
		return fallback
	}
	if secs, err := strconv.ParseFloat(header, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if m := retryAfterNumeric.FindString(header); m != "" {
		if secs, err := strconv.ParseFloat(m, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return fallback
}
