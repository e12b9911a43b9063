package analysis

import (
	"encoding/json"

	"github.com/perfstack/perf-sentinel/internal/batch"
	"github.com/perfstack/perf-sentinel/internal/models"
)

// systemPrompt frames the model as a benchmark triage analyst and pins the
// decision rules to the same tiered AND-thresholds the statistical detector
// applies, so model and heuristic verdicts stay comparable.
const systemPrompt = `You are a benchmark regression analyst. You receive the metric entries of the current run together with each metric's recent history and statistical features.
Task: identify genuinely anomalous metrics and give the most likely root causes plus concrete follow-up checks.
Rules:
- Benchmark data fluctuates naturally; rely on robust statistics (robust_z, percentage change vs the history median, history_n).
- Severity requires BOTH conditions: high needs abs(robust_z)>=8.0 and |delta vs median|>=50%; medium needs abs(robust_z)>=6.0 and |delta vs median|>=35%; low needs abs(robust_z)>=4.0 and |delta vs median|>=25%. Require history_n>=20 before judging. When evidence is thin, report no anomaly.
- State the deviation direction (regression vs improvement) quantitatively.
- Every anomaly must include primary_reason, at least one root_cause with a likelihood in [0,1], supporting_evidence citing concrete features, a confidence in [0,1], and 3-5 actionable suggested_next_checks.
- Output strict JSON matching the provided schema. No markdown, no prose.`

// requestInstructions restates the mandatory response fields inline with the
// payload, which measurably improves schema adherence on smaller models.
const requestInstructions = `Return valid JSON only, no markdown. Every anomaly must carry severity and a numeric confidence in [0,1], a complete supporting_evidence object (history_n, mean, median, robust_z), a root_causes array with cause and likelihood, and 3-5 actionable suggested_next_checks. Do not flag a metric without sufficient statistical evidence.`

// outputSchema is the fixed response contract validated downstream.
const outputSchema = `{
  "type": "object",
  "properties": {
    "summary": {
      "type": "object",
      "properties": {
        "total_anomalies": {"type": "integer"},
        "severity_counts": {"type": "object"}
      },
      "required": ["total_anomalies"]
    },
    "anomalies": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "suite": {"type": "string"},
          "case": {"type": "string"},
          "metric": {"type": "string"},
          "current_value": {"type": "number"},
          "severity": {"type": "string", "enum": ["high", "medium", "low"]},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1},
          "primary_reason": {"type": "string"},
          "supporting_evidence": {
            "type": "object",
            "properties": {
              "history_n": {"type": "integer"},
              "mean": {"type": ["number", "null"]},
              "median": {"type": ["number", "null"]},
              "robust_z": {"type": ["number", "null"]},
              "pct_change_vs_median": {"type": ["number", "null"]},
              "pct_change_vs_mean": {"type": ["number", "null"]}
            },
            "required": ["history_n"]
          },
          "root_causes": {
            "type": "array",
            "items": {
              "type": "object",
              "properties": {
                "cause": {"type": "string"},
                "likelihood": {"type": ["number", "null"]}
              },
              "required": ["cause"]
            }
          },
          "suggested_next_checks": {"type": "array", "items": {"type": "string"}}
        },
        "required": ["suite", "case", "metric", "current_value", "severity", "confidence", "primary_reason", "supporting_evidence", "root_causes", "suggested_next_checks"]
      }
    }
  },
  "required": ["summary", "anomalies"]
}`

// RunContext describes the measured environment, forwarded to the model so
// root causes stay platform-appropriate.
type RunContext struct {
	Arch       string `json:"arch" yaml:"arch"`
	OS         string `json:"os" yaml:"os"`
	Hypervisor string `json:"hypervisor,omitempty" yaml:"hypervisor"`
	Suite      string `json:"suite,omitempty" yaml:"suite"`
}

// requestEntry pairs an input entry with its statistical features.
type requestEntry struct {
	models.Entry
	Features *models.Features `json:"features,omitempty"`
}

// analysisPayload is the user-message body sent to the model. History uses
// canonical string keys because structured tuples are not valid JSON keys.
type analysisPayload struct {
	RunID        string               `json:"run_id"`
	GroupID      string               `json:"group_id"`
	Entries      []requestEntry       `json:"entries"`
	History      map[string][]float64 `json:"history"`
	Context      RunContext           `json:"context"`
	OutputSchema json.RawMessage      `json:"output_schema"`
	Instructions string               `json:"instructions"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func buildRequestBody(model, runID, groupID string, b batch.Batch, runCtx RunContext) ([]byte, error) {
	entries := make([]requestEntry, 0, len(b.Entries))
	for _, e := range b.Entries {
		re := requestEntry{Entry: e}
		if f, ok := b.Features[e.Key().String()]; ok {
			re.Features = &f
		}
		entries = append(entries, re)
	}

	payload := analysisPayload{
		RunID:        runID,
		GroupID:      groupID,
		Entries:      entries,
		History:      b.History,
		Context:      runCtx,
		OutputSchema: json.RawMessage(outputSchema),
		Instructions: requestInstructions,
	}
	user, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(user)},
		},
		Temperature: 0.2,
	})
}
