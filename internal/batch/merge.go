package batch

import "github.com/perfstack/perf-sentinel/internal/models"

// MergeResults concatenates batch results, deduplicates anomalies by
// MetricKey keeping the higher-confidence record on conflict, and recomputes
// severity counts. First-seen ordering of keys is preserved, which makes the
// merge idempotent and insensitive to duplicate ordering. The merged engine
// tag names the first model-backed engine seen and is marked degraded as
// soon as any batch fell back to the heuristic.
func MergeResults(results []models.AnalysisResult) models.AnalysisResult {
	var order []models.MetricKey
	byKey := make(map[models.MetricKey]models.AnomalyRecord)

	for _, result := range results {
		for _, anomaly := range result.Anomalies {
			key := anomaly.Key()
			existing, ok := byKey[key]
			if !ok {
				order = append(order, key)
				byKey[key] = anomaly
				continue
			}
			if anomaly.Confidence > existing.Confidence {
				byKey[key] = anomaly
			}
		}
	}

	anomalies := make([]models.AnomalyRecord, 0, len(order))
	for _, key := range order {
		anomalies = append(anomalies, byKey[key])
	}

	merged := models.AnalysisResult{
		Anomalies: anomalies,
		Summary:   models.Summarize(anomalies),
	}
	merged.Summary.AnalysisEngine = mergeEngines(results)
	return merged
}

func mergeEngines(results []models.AnalysisResult) models.AnalysisEngine {
	engine := models.AnalysisEngine{Name: "heuristic", Version: "n/a"}
	named := false
	for _, result := range results {
		e := result.Summary.AnalysisEngine
		if e.Degraded {
			engine.Degraded = true
			continue
		}
		if !named && e.Name != "" {
			engine.Name = e.Name
			engine.Version = e.Version
			named = true
		}
	}
	if !named {
		engine.Degraded = true
	}
	return engine
}
