package models

// SeverityCounts tallies anomalies per severity tier.
type SeverityCounts struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// AnalysisEngine identifies which engine produced a run's results. Degraded is
// true when the statistical heuristic stood in for a model backend.
type AnalysisEngine struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Degraded bool   `json:"degraded"`
}

// RunSummary is the per-run rollup written next to the anomaly records.
type RunSummary struct {
	TotalAnomalies int            `json:"total_anomalies"`
	SeverityCounts SeverityCounts `json:"severity_counts"`
	AnalysisEngine AnalysisEngine `json:"analysis_engine"`
	AnalysisTime   string         `json:"analysis_time,omitempty"`
}

// AnalysisResult bundles anomalies with their summary. Raw and Err are filled
// only when a model response could not be parsed, preserving the payload for
// later inspection instead of failing the batch.
type AnalysisResult struct {
	Anomalies []AnomalyRecord `json:"anomalies"`
	Summary   RunSummary      `json:"summary"`
	Raw       string          `json:"_raw,omitempty"`
	Err       string          `json:"_error,omitempty"`
}

// Summarize recomputes a summary from a set of anomaly records.
func Summarize(anomalies []AnomalyRecord) RunSummary {
	summary := RunSummary{TotalAnomalies: len(anomalies)}
	for _, a := range anomalies {
		switch a.Severity {
		case SeverityHigh:
			summary.SeverityCounts.High++
		case SeverityMedium:
			summary.SeverityCounts.Medium++
		case SeverityLow:
			summary.SeverityCounts.Low++
		}
	}
	return summary
}
