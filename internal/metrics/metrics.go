// Package metrics exposes Prometheus instrumentation for the analysis
// pipeline.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "perf_sentinel"

var (
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Analysis runs by outcome.",
	}, []string{"outcome"})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "End-to-end duration of one analysis run.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	batchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_duration_seconds",
		Help:      "Duration of one batch analysis, by cache hit.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"cache_hit"})

	endpointCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "endpoint_calls_total",
		Help:      "Model endpoint calls by endpoint name and outcome.",
	}, []string{"endpoint", "outcome"})

	fallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heuristic_fallbacks_total",
		Help:      "Batches resolved by the statistical fallback instead of a model.",
	})

	anomaliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "anomalies_total",
		Help:      "Detected anomalies by severity.",
	}, []string{"severity"})
)

// Register installs all collectors on the given registerer. Re-registration
// is tolerated so tests and embedded uses can share the default registry.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		runsTotal, runDuration, batchDuration, endpointCalls, fallbacksTotal, anomaliesTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun records a finished run.
func ObserveRun(outcome string, d time.Duration) {
	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.Observe(d.Seconds())
}

// ObserveBatch records one batch analysis.
func ObserveBatch(cacheHit bool, d time.Duration) {
	batchDuration.WithLabelValues(strconv.FormatBool(cacheHit)).Observe(d.Seconds())
}

// IncEndpointCall counts one model endpoint call.
func IncEndpointCall(endpoint, outcome string) {
	endpointCalls.WithLabelValues(endpoint, outcome).Inc()
}

// IncFallback counts one heuristic fallback.
func IncFallback() {
	fallbacksTotal.Inc()
}

// IncAnomaly counts one detected anomaly.
func IncAnomaly(severity string) {
	anomaliesTotal.WithLabelValues(severity).Inc()
}
