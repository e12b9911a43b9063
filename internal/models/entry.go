package models

import (
	"fmt"
	"strings"
)

// MetricKey identifies a single measured quantity within a run.
type MetricKey struct {
	Suite  string
	Case   string
	Metric string
}

// String returns the canonical wire encoding used wherever map keys must be strings.
func (k MetricKey) String() string {
	return k.Suite + "::" + k.Case + "::" + k.Metric
}

// ParseMetricKey rebuilds a MetricKey from its canonical encoding.
func ParseMetricKey(s string) (MetricKey, error) {
	parts := strings.SplitN(s, "::", 3)
	if len(parts) != 3 {
		return MetricKey{}, fmt.Errorf("malformed metric key %q", s)
	}
	return MetricKey{Suite: parts[0], Case: parts[1], Metric: parts[2]}, nil
}

// Entry is one observation for a MetricKey in the current run. Entries are
// produced by upstream parsing and are immutable inputs to the analysis core.
type Entry struct {
	Suite  string         `json:"suite"`
	Case   string         `json:"case"`
	Metric string         `json:"metric"`
	Value  float64        `json:"value"`
	Unit   string         `json:"unit,omitempty"`
	Status string         `json:"status,omitempty"`
	Raw    map[string]any `json:"raw,omitempty"`
}

// Key returns the entry's MetricKey.
func (e Entry) Key() MetricKey {
	return MetricKey{Suite: e.Suite, Case: e.Case, Metric: e.Metric}
}
