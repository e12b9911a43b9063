package models

import "testing"

func TestMetricKeyRoundTrip(t *testing.T) {
	key := MetricKey{Suite: "unixbench", Case: "dhry2reg", Metric: "dhrystone"}
	parsed, err := ParseMetricKey(key.String())
	if err != nil {
		t.Fatalf("ParseMetricKey: %v", err)
	}
	if parsed != key {
		t.Fatalf("expected %+v, got %+v", key, parsed)
	}
}

func TestParseMetricKeyMalformed(t *testing.T) {
	if _, err := ParseMetricKey("suite::case"); err == nil {
		t.Fatalf("expected error for two-part key")
	}
}

func TestSummarizeCounts(t *testing.T) {
	anomalies := []AnomalyRecord{
		{Severity: SeverityHigh},
		{Severity: SeverityHigh},
		{Severity: SeverityLow},
	}
	s := Summarize(anomalies)
	if s.TotalAnomalies != 3 {
		t.Fatalf("expected total 3, got %d", s.TotalAnomalies)
	}
	if s.SeverityCounts.High != 2 || s.SeverityCounts.Low != 1 || s.SeverityCounts.Medium != 0 {
		t.Fatalf("unexpected counts: %+v", s.SeverityCounts)
	}
}
