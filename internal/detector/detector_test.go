package detector

import (
	"math"
	"testing"

	"github.com/perfstack/perf-sentinel/internal/models"
)

// spreadHistory has median 100 and MAD 3, enough dispersion for a defined
// robust z-score.
func spreadHistory() []float64 {
	return []float64{95, 97, 99, 100, 100, 101, 103, 105, 95, 105}
}

func entryWith(value float64) models.Entry {
	return models.Entry{Suite: "unixbench", Case: "dhry2reg", Metric: "dhrystone", Value: value, Unit: "lps"}
}

func TestRobustZDefined(t *testing.T) {
	z, ok := RobustZ(150, spreadHistory())
	if !ok {
		t.Fatalf("expected defined robust z")
	}
	want := 50 / (madScale * 3)
	if math.Abs(z-want) > 1e-9 {
		t.Fatalf("expected z=%.4f, got %.4f", want, z)
	}
}

func TestRobustZUndefinedOnZeroMAD(t *testing.T) {
	constant := []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100}
	if _, ok := RobustZ(500, constant); ok {
		t.Fatalf("expected undefined robust z for zero-dispersion history")
	}
	if _, ok := RobustZ(500, nil); ok {
		t.Fatalf("expected undefined robust z for empty history")
	}
}

func TestMedianMidpoint(t *testing.T) {
	med, ok := Median([]float64{4, 1, 3, 2})
	if !ok || med != 2.5 {
		t.Fatalf("expected midpoint median 2.5, got %v (ok=%v)", med, ok)
	}
}

func TestSeverityTiers(t *testing.T) {
	cases := []struct {
		name string
		absZ float64
		pct  float64
		want models.Severity
	}{
		{"high", 9.0, 0.55, models.SeverityHigh},
		{"high z low pct demotes", 9.0, 0.40, models.SeverityMedium},
		{"medium", 6.5, 0.36, models.SeverityMedium},
		{"low", 4.5, 0.26, models.SeverityLow},
		{"pct alone insufficient", 2.0, 0.90, ""},
		{"z alone insufficient", 12.0, 0.10, ""},
	}
	for _, tc := range cases {
		if got := Severity(tc.absZ, tc.pct); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestConfidence(t *testing.T) {
	if got := Confidence(10, 10); math.Abs(got-0.65) > 1e-9 {
		t.Fatalf("expected 0.65 for small history, got %v", got)
	}
	if got := Confidence(10, 100); math.Abs(got-0.75) > 1e-9 {
		t.Fatalf("expected 0.75 for large history, got %v", got)
	}
	if got := Confidence(500, 100); got != 0.95 {
		t.Fatalf("expected confidence capped at 0.95, got %v", got)
	}
}

func TestDetectFlagsHighSeverity(t *testing.T) {
	d := New(10, nil)
	entry := entryWith(150)
	history := map[models.MetricKey][]float64{entry.Key(): spreadHistory()}

	records := d.Detect([]models.Entry{entry}, history)
	if len(records) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(records))
	}
	rec := records[0]
	if rec.Severity != models.SeverityHigh {
		t.Fatalf("expected high severity, got %q", rec.Severity)
	}
	if rec.SupportingEvidence.HistoryN != 10 {
		t.Fatalf("expected history_n 10, got %d", rec.SupportingEvidence.HistoryN)
	}
	if rec.SupportingEvidence.Median == nil || *rec.SupportingEvidence.Median != 100 {
		t.Fatalf("expected evidence median 100, got %v", rec.SupportingEvidence.Median)
	}
	if rec.Deltas.RobustZ == nil || *rec.Deltas.RobustZ <= 8 {
		t.Fatalf("expected robust z above high threshold, got %v", rec.Deltas.RobustZ)
	}
	if len(rec.SuggestedNextChecks) == 0 {
		t.Fatalf("expected suggested checks on a heuristic anomaly")
	}
}

func TestDetectSkipsInsufficientHistory(t *testing.T) {
	d := New(10, nil)
	entry := entryWith(1000)
	history := map[models.MetricKey][]float64{entry.Key(): {95, 100, 105}}

	if records := d.Detect([]models.Entry{entry}, history); len(records) != 0 {
		t.Fatalf("expected no anomalies with a thin baseline, got %d", len(records))
	}
}

func TestDetectSkipsUndefinedStats(t *testing.T) {
	d := New(10, nil)
	entry := entryWith(1000)
	constant := []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100}
	history := map[models.MetricKey][]float64{entry.Key(): constant}

	if records := d.Detect([]models.Entry{entry}, history); len(records) != 0 {
		t.Fatalf("expected no anomalies when MAD is zero, got %d", len(records))
	}
}

func TestDetectImprovementDirection(t *testing.T) {
	d := New(10, nil)
	entry := entryWith(50)
	history := map[models.MetricKey][]float64{entry.Key(): spreadHistory()}

	records := d.Detect([]models.Entry{entry}, history)
	if len(records) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(records))
	}
	if z := records[0].Deltas.RobustZ; z == nil || *z >= 0 {
		t.Fatalf("expected negative robust z for a drop, got %v", z)
	}
}

func TestSuggestChecksMetricSpecific(t *testing.T) {
	z := -5.0
	pct := -0.6
	checks := SuggestChecks("dhrystone", &z, &pct)
	if len(checks) != 5 {
		t.Fatalf("expected 5 capped suggestions, got %d", len(checks))
	}
	if checks[0] != "inspect CPU cache sizing: /sys/devices/system/cpu/cpu*/cache/index*/size" {
		t.Fatalf("expected integer-specific check first, got %q", checks[0])
	}
	// Regression checks precede improvement checks for a negative z.
	found := false
	for _, c := range checks {
		if c == regressionChecks[0] {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected regression checks for negative z, got %v", checks)
	}
}

func TestSuggestChecksDeduplicates(t *testing.T) {
	checks := SuggestChecks("unknown-metric", nil, nil)
	seen := map[string]bool{}
	for _, c := range checks {
		if seen[c] {
			t.Fatalf("duplicate suggestion %q", c)
		}
		seen[c] = true
	}
}
