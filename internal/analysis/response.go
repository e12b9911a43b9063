package analysis

import (
	"encoding/json"
	"strings"

	"github.com/perfstack/perf-sentinel/internal/batch"
	"github.com/perfstack/perf-sentinel/internal/detector"
	"github.com/perfstack/perf-sentinel/internal/models"
)

// coerceJSON extracts a JSON object from model output that may be wrapped in
// markdown fences or surrounded by prose. Returns the trimmed candidate; the
// caller decides whether it actually parses.
func coerceJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSpace(strings.TrimPrefix(s, "json"))
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

// parseResult decodes a chat completion into an AnalysisResult. Any failure
// yields an empty-but-valid result carrying the raw text and the parse error,
// so a malformed model response never aborts a run.
func parseResult(body []byte) models.AnalysisResult {
	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil || len(cr.Choices) == 0 {
		return rawFailure(string(body), "no completion choices in response")
	}
	content := cr.Choices[0].Message.Content
	candidate := coerceJSON(content)

	var res models.AnalysisResult
	if err := json.Unmarshal([]byte(candidate), &res); err != nil {
		return rawFailure(content, "response is not valid JSON: "+err.Error())
	}
	if res.Anomalies == nil {
		res.Anomalies = []models.AnomalyRecord{}
	}
	return res
}

func rawFailure(raw, msg string) models.AnalysisResult {
	return models.AnalysisResult{
		Anomalies: []models.AnomalyRecord{},
		Summary:   models.RunSummary{SeverityCounts: models.SeverityCounts{}},
		Raw:       raw,
		Err:       msg,
	}
}

// postProcess repairs structurally valid but incomplete model output: missing
// evidence is backfilled from the batch features, empty slices are
// materialized, thin check lists are topped up, and confidence is clamped.
func postProcess(res *models.AnalysisResult, b batch.Batch) {
	for i := range res.Anomalies {
		a := &res.Anomalies[i]

		key := a.Key().String()
		if f, ok := b.Features[key]; ok {
			ev := &a.SupportingEvidence
			if ev.HistoryN == 0 {
				ev.HistoryN = f.HistoryN
			}
			if ev.Mean == nil {
				ev.Mean = f.Mean
			}
			if ev.Median == nil {
				ev.Median = f.Median
			}
			if ev.RobustZ == nil {
				ev.RobustZ = f.RobustZ
			}
			if ev.PctVsMedian == nil {
				ev.PctVsMedian = f.PctVsMedian
			}
			if ev.PctVsMean == nil {
				ev.PctVsMean = f.PctVsMean
			}
			if a.Deltas.RobustZ == nil {
				a.Deltas.RobustZ = f.RobustZ
			}
			if a.Deltas.VsMedianPct == nil {
				a.Deltas.VsMedianPct = f.PctVsMedian
			}
		}

		if a.RootCauses == nil {
			a.RootCauses = []models.RootCause{}
		}
		if a.SuggestedNextChecks == nil {
			a.SuggestedNextChecks = []string{}
		}
		if len(a.SuggestedNextChecks) < 3 {
			regression := a.SupportingEvidence.RobustZ != nil && *a.SupportingEvidence.RobustZ < 0
			for _, c := range detector.FallbackChecks(regression) {
				if len(a.SuggestedNextChecks) >= 4 {
					break
				}
				if !containsCheck(a.SuggestedNextChecks, c) {
					a.SuggestedNextChecks = append(a.SuggestedNextChecks, c)
				}
			}
		}

		if a.Confidence < 0 {
			a.Confidence = 0
		}
		if a.Confidence > 1 {
			a.Confidence = 1
		}
	}

	res.Summary = models.Summarize(res.Anomalies)
}

func containsCheck(checks []string, c string) bool {
	for _, v := range checks {
		if v == c {
			return true
		}
	}
	return false
}
