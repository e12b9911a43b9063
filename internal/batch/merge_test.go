package batch

import (
	"testing"

	"github.com/perfstack/perf-sentinel/internal/models"
)

func anomaly(metric string, severity models.Severity, confidence float64) models.AnomalyRecord {
	return models.AnomalyRecord{
		Suite:      "unixbench",
		Case:       "c1",
		Metric:     metric,
		Severity:   severity,
		Confidence: confidence,
	}
}

func TestMergeResultsDeduplicatesByConfidence(t *testing.T) {
	a := models.AnalysisResult{Anomalies: []models.AnomalyRecord{
		anomaly("dhrystone", models.SeverityLow, 0.6),
		anomaly("whetstone", models.SeverityHigh, 0.9),
	}}
	b := models.AnalysisResult{Anomalies: []models.AnomalyRecord{
		anomaly("dhrystone", models.SeverityMedium, 0.8),
	}}

	merged := MergeResults([]models.AnalysisResult{a, b})
	if len(merged.Anomalies) != 2 {
		t.Fatalf("expected 2 deduplicated anomalies, got %d", len(merged.Anomalies))
	}
	// First-seen order is preserved, the higher-confidence duplicate wins.
	if merged.Anomalies[0].Metric != "dhrystone" || merged.Anomalies[0].Confidence != 0.8 {
		t.Fatalf("expected higher-confidence dhrystone record first, got %+v", merged.Anomalies[0])
	}
	if merged.Summary.TotalAnomalies != 2 {
		t.Fatalf("expected recomputed total 2, got %d", merged.Summary.TotalAnomalies)
	}
	if merged.Summary.SeverityCounts.Medium != 1 || merged.Summary.SeverityCounts.High != 1 {
		t.Fatalf("expected recomputed severity counts, got %+v", merged.Summary.SeverityCounts)
	}
}

func TestMergeResultsIdempotent(t *testing.T) {
	a := models.AnalysisResult{Anomalies: []models.AnomalyRecord{
		anomaly("dhrystone", models.SeverityLow, 0.6),
	}}
	once := MergeResults([]models.AnalysisResult{a})
	twice := MergeResults([]models.AnalysisResult{once, once})
	if len(twice.Anomalies) != 1 {
		t.Fatalf("expected merge to be idempotent, got %d anomalies", len(twice.Anomalies))
	}
}

func TestMergeEnginesDegradedPropagates(t *testing.T) {
	model := models.AnalysisResult{Summary: models.RunSummary{
		AnalysisEngine: models.AnalysisEngine{Name: "openai-main", Version: "gpt-4o"},
	}}
	degraded := models.AnalysisResult{Summary: models.RunSummary{
		AnalysisEngine: models.AnalysisEngine{Name: "heuristic", Version: "n/a", Degraded: true},
	}}

	merged := MergeResults([]models.AnalysisResult{model, degraded})
	engine := merged.Summary.AnalysisEngine
	if engine.Name != "openai-main" || !engine.Degraded {
		t.Fatalf("expected model engine name with degraded flag, got %+v", engine)
	}

	allDegraded := MergeResults([]models.AnalysisResult{degraded, degraded})
	engine = allDegraded.Summary.AnalysisEngine
	if engine.Name != "heuristic" || engine.Version != "n/a" || !engine.Degraded {
		t.Fatalf("expected heuristic engine when every batch degraded, got %+v", engine)
	}
}
