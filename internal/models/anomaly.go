package models

// Severity captures anomaly impact levels.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// RootCause is one candidate explanation for an anomaly.
type RootCause struct {
	Cause      string   `json:"cause"`
	Likelihood *float64 `json:"likelihood"`
}

// SupportingEvidence carries the statistical context behind an anomaly verdict.
// Pointer fields are nil when the underlying statistic is undefined (empty
// history, zero MAD, zero median).
type SupportingEvidence struct {
	HistoryN    int      `json:"history_n"`
	Mean        *float64 `json:"mean"`
	Median      *float64 `json:"median"`
	RobustZ     *float64 `json:"robust_z,omitempty"`
	PctVsMedian *float64 `json:"pct_change_vs_median,omitempty"`
	PctVsMean   *float64 `json:"pct_change_vs_mean,omitempty"`
}

// Deltas summarises how far the current value moved from its baseline.
type Deltas struct {
	VsMedianPct *float64 `json:"vs_median_pct,omitempty"`
	RobustZ     *float64 `json:"robust_z,omitempty"`
}

// AnomalyRecord is the detector's or orchestrator's verdict for one MetricKey.
type AnomalyRecord struct {
	Suite               string             `json:"suite"`
	Case                string             `json:"case"`
	Metric              string             `json:"metric"`
	CurrentValue        float64            `json:"current_value"`
	Unit                string             `json:"unit,omitempty"`
	Severity            Severity           `json:"severity"`
	Confidence          float64            `json:"confidence"`
	PrimaryReason       string             `json:"primary_reason"`
	Deltas              Deltas             `json:"deltas"`
	RootCauses          []RootCause        `json:"root_causes"`
	SupportingEvidence  SupportingEvidence `json:"supporting_evidence"`
	SuggestedNextChecks []string           `json:"suggested_next_checks"`
}

// Key returns the record's MetricKey.
func (a AnomalyRecord) Key() MetricKey {
	return MetricKey{Suite: a.Suite, Case: a.Case, Metric: a.Metric}
}

// Features holds the per-entry statistics computed against its baseline and
// shared between the detector, the batch optimizer and the analysis client.
type Features struct {
	CurrentValue float64  `json:"current_value"`
	HistoryN     int      `json:"history_n"`
	Mean         *float64 `json:"mean"`
	Median       *float64 `json:"median"`
	RobustZ      *float64 `json:"robust_z"`
	PctVsMedian  *float64 `json:"pct_change_vs_median"`
	PctVsMean    *float64 `json:"pct_change_vs_mean"`
}
