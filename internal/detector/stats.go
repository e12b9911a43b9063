package detector

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/perfstack/perf-sentinel/internal/models"
)

// madScale converts a median absolute deviation into a consistent estimator of
// the standard deviation for normally distributed data.
const madScale = 1.4826

// Median returns the midpoint median of values; ok is false for empty input.
func Median(values []float64) (float64, bool) {
	n := len(values)
	if n == 0 {
		return 0, false
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2], true
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2, true
}

// MAD returns the median absolute deviation of values around their median.
func MAD(values []float64) (float64, bool) {
	med, ok := Median(values)
	if !ok {
		return 0, false
	}
	deviations := make([]float64, len(values))
	for i, v := range values {
		d := v - med
		if d < 0 {
			d = -d
		}
		deviations[i] = d
	}
	return Median(deviations)
}

// RobustZ computes the robust z-score of current against history. ok is false
// when the score is undefined: empty history or zero MAD. A zero MAD must not
// degrade to a zero score, so callers treat !ok as "no evidence".
func RobustZ(current float64, history []float64) (float64, bool) {
	med, ok := Median(history)
	if !ok {
		return 0, false
	}
	mad, _ := MAD(history)
	if mad == 0 {
		return 0, false
	}
	return (current - med) / (madScale * mad), true
}

// PctVsMedian returns the relative change of current against the history
// median; undefined when the median is zero.
func PctVsMedian(current float64, history []float64) (float64, bool) {
	med, ok := Median(history)
	if !ok || med == 0 {
		return 0, false
	}
	return (current - med) / med, true
}

// PctVsMean returns the relative change of current against the history mean;
// undefined when the mean is zero.
func PctVsMean(current float64, history []float64) (float64, bool) {
	if len(history) == 0 {
		return 0, false
	}
	mu := stat.Mean(history, nil)
	if mu == 0 {
		return 0, false
	}
	return (current - mu) / mu, true
}

// ComputeFeatures derives per-entry statistics against the baseline, keyed by
// the canonical string encoding so the map survives JSON serialization.
func ComputeFeatures(entries []models.Entry, history map[models.MetricKey][]float64) map[string]models.Features {
	features := make(map[string]models.Features, len(entries))
	for _, e := range entries {
		hist := history[e.Key()]
		f := models.Features{
			CurrentValue: e.Value,
			HistoryN:     len(hist),
		}
		if len(hist) > 0 {
			f.Mean = ptr(stat.Mean(hist, nil))
			if med, ok := Median(hist); ok {
				f.Median = ptr(med)
			}
		}
		if z, ok := RobustZ(e.Value, hist); ok {
			f.RobustZ = ptr(z)
		}
		if pct, ok := PctVsMedian(e.Value, hist); ok {
			f.PctVsMedian = ptr(pct)
		}
		if pct, ok := PctVsMean(e.Value, hist); ok {
			f.PctVsMean = ptr(pct)
		}
		features[e.Key().String()] = f
	}
	return features
}

func ptr(v float64) *float64 { return &v }
