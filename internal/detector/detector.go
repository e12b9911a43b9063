package detector

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/perfstack/perf-sentinel/internal/models"
)

// Tiered severity thresholds. Each tier requires BOTH the dispersion and the
// magnitude condition; either signal alone is insufficient evidence.
const (
	highZThreshold   = 8.0
	highPctThreshold = 0.50

	mediumZThreshold   = 6.0
	mediumPctThreshold = 0.35

	lowZThreshold   = 4.0
	lowPctThreshold = 0.25
)

// DefaultMinSamples is the history size below which entries are never flagged.
const DefaultMinSamples = 10

// Detector flags statistically anomalous entries against their baselines.
// It is purely computational and performs no I/O.
type Detector struct {
	minSamples int
	logger     *slog.Logger
}

// New constructs a Detector. minSamples <= 0 selects DefaultMinSamples.
func New(minSamples int, logger *slog.Logger) *Detector {
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{minSamples: minSamples, logger: logger}
}

// Severity returns the highest tier whose AND-condition holds, or "" when the
// deviation does not qualify as anomalous.
func Severity(absZ, absPct float64) models.Severity {
	switch {
	case absZ >= highZThreshold && absPct >= highPctThreshold:
		return models.SeverityHigh
	case absZ >= mediumZThreshold && absPct >= mediumPctThreshold:
		return models.SeverityMedium
	case absZ >= lowZThreshold && absPct >= lowPctThreshold:
		return models.SeverityLow
	default:
		return ""
	}
}

// Confidence scores an anomaly by deviation magnitude and baseline weight.
func Confidence(absZ float64, historyN int) float64 {
	base := 0.6
	if historyN >= 100 {
		base = 0.7
	}
	return math.Min(0.95, base+0.05*absZ/10)
}

// Detect scores every entry against its baseline and returns records for the
// ones that cross a severity tier. Entries with insufficient history or
// undefined statistics are skipped, never flagged.
func (d *Detector) Detect(entries []models.Entry, history map[models.MetricKey][]float64) []models.AnomalyRecord {
	var results []models.AnomalyRecord
	for _, e := range entries {
		hist := history[e.Key()]
		if len(hist) < d.minSamples {
			continue
		}

		z, zOK := RobustZ(e.Value, hist)
		pct, pctOK := PctVsMedian(e.Value, hist)
		if !zOK || !pctOK {
			continue
		}

		severity := Severity(math.Abs(z), math.Abs(pct))
		if severity == "" {
			continue
		}

		record := models.AnomalyRecord{
			Suite:         e.Suite,
			Case:          e.Case,
			Metric:        e.Metric,
			CurrentValue:  e.Value,
			Unit:          e.Unit,
			Severity:      severity,
			Confidence:    Confidence(math.Abs(z), len(hist)),
			PrimaryReason: fmt.Sprintf("robust_z=%.2f, Δ vs median=%+.0f%%", z, pct*100),
			Deltas: models.Deltas{
				VsMedianPct: ptr(pct),
				RobustZ:     ptr(z),
			},
			RootCauses: []models.RootCause{},
			SupportingEvidence: models.SupportingEvidence{
				HistoryN: len(hist),
			},
			SuggestedNextChecks: SuggestChecks(e.Metric, &z, &pct),
		}
		if features := ComputeFeatures([]models.Entry{e}, history); len(features) == 1 {
			f := features[e.Key().String()]
			record.SupportingEvidence.Mean = f.Mean
			record.SupportingEvidence.Median = f.Median
			record.SupportingEvidence.RobustZ = f.RobustZ
			record.SupportingEvidence.PctVsMedian = f.PctVsMedian
			record.SupportingEvidence.PctVsMean = f.PctVsMean
		}
		results = append(results, record)
	}
	return results
}

// Fallback builds a full heuristic analysis result, used when no model
// endpoint is reachable.
func (d *Detector) Fallback(entries []models.Entry, history map[models.MetricKey][]float64) models.AnalysisResult {
	anomalies := d.Detect(entries, history)
	d.logger.Info("heuristic analysis", slog.Int("entries", len(entries)), slog.Int("anomalies", len(anomalies)))
	return models.AnalysisResult{
		Anomalies: anomalies,
		Summary:   models.Summarize(anomalies),
	}
}
