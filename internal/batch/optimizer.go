package batch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/perfstack/perf-sentinel/internal/detector"
	"github.com/perfstack/perf-sentinel/internal/models"
)

const (
	// DefaultMaxBatchSize bounds entries per external analysis call.
	DefaultMaxBatchSize = 10
	// DefaultMinBatchSize is the floor below which a chunk is merged into its
	// predecessor instead of being submitted alone.
	DefaultMinBatchSize = 3

	// groupingMinHistory is the looser history gate used only for grouping,
	// not for final classification.
	groupingMinHistory = 20

	// lowestPriority sorts a batch with no measurable deviation last.
	lowestPriority = 100
)

// Batch is a bounded group of entries submitted together to the analysis
// backend, with the statistical features and history relevant to them.
type Batch struct {
	ID       string
	Entries  []models.Entry
	Features map[string]models.Features
	History  map[string][]float64
	Priority int
	Size     int
}

// Optimizer partitions run entries into prioritised, bounded batches.
type Optimizer struct {
	maxBatchSize int
	minBatchSize int
	logger       *slog.Logger
}

// NewOptimizer constructs an Optimizer; non-positive sizes select defaults.
func NewOptimizer(maxBatchSize, minBatchSize int, logger *slog.Logger) *Optimizer {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	if minBatchSize <= 0 {
		minBatchSize = DefaultMinBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{maxBatchSize: maxBatchSize, minBatchSize: minBatchSize, logger: logger}
}

// Optimize groups entries by (suite, estimated severity), splits oversized
// groups by metric category, and returns batches sorted by ascending priority.
func (o *Optimizer) Optimize(entries []models.Entry, history map[models.MetricKey][]float64) []Batch {
	features := detector.ComputeFeatures(entries, history)
	groups := o.groupEntries(entries, features, history)

	groupKeys := make([]string, 0, len(groups))
	for key := range groups {
		groupKeys = append(groupKeys, key)
	}
	sort.Strings(groupKeys)

	var batches []Batch
	for _, key := range groupKeys {
		group := groups[key]
		if len(group) > o.maxBatchSize {
			batches = append(batches, o.splitLargeGroup(group, features, history)...)
		} else {
			batches = append(batches, newBatch(group, features, history))
		}
	}

	sort.SliceStable(batches, func(i, j int) bool { return batches[i].Priority < batches[j].Priority })
	o.logger.Debug("optimised batches", slog.Int("entries", len(entries)), slog.Int("batches", len(batches)))
	return batches
}

func (o *Optimizer) groupEntries(entries []models.Entry, features map[string]models.Features, history map[models.MetricKey][]float64) map[string][]models.Entry {
	groups := make(map[string][]models.Entry)
	for _, e := range entries {
		severity := groupingSeverity(e, features[e.Key().String()], history[e.Key()])
		suite := e.Suite
		if suite == "" {
			suite = "unknown"
		}
		key := suite + "_" + severity
		groups[key] = append(groups[key], e)
	}
	return groups
}

// groupingSeverity applies the detector's AND-rule behind a looser history
// gate; it only steers batch composition and never reaches consumers.
func groupingSeverity(e models.Entry, f models.Features, hist []float64) string {
	if len(hist) < groupingMinHistory {
		return "normal"
	}
	if f.RobustZ == nil || f.PctVsMedian == nil {
		return "normal"
	}
	severity := detector.Severity(math.Abs(*f.RobustZ), math.Abs(*f.PctVsMedian))
	if severity == "" {
		return "normal"
	}
	return string(severity)
}

// splitLargeGroup subdivides an oversized group by metric category, then
// chunks each category to maxBatchSize. Undersized trailing chunks are folded
// into the previous batch rather than submitted alone.
func (o *Optimizer) splitLargeGroup(entries []models.Entry, features map[string]models.Features, history map[models.MetricKey][]float64) []Batch {
	categories := make(map[string][]models.Entry)
	for _, e := range entries {
		categories[metricCategory(e.Metric)] = append(categories[metricCategory(e.Metric)], e)
	}

	categoryKeys := make([]string, 0, len(categories))
	for key := range categories {
		categoryKeys = append(categoryKeys, key)
	}
	sort.Strings(categoryKeys)

	var batches []Batch
	for _, category := range categoryKeys {
		categoryEntries := categories[category]
		for i := 0; i < len(categoryEntries); i += o.maxBatchSize {
			end := i + o.maxBatchSize
			if end > len(categoryEntries) {
				end = len(categoryEntries)
			}
			chunk := categoryEntries[i:end]
			if len(chunk) >= o.minBatchSize || i == 0 || len(batches) == 0 {
				batches = append(batches, newBatch(chunk, features, history))
				continue
			}
			merged := append(append([]models.Entry(nil), batches[len(batches)-1].Entries...), chunk...)
			batches[len(batches)-1] = newBatch(merged, features, history)
		}
	}
	return batches
}

// metricCategory classifies a metric name by keyword for sub-grouping.
func metricCategory(metric string) string {
	lower := strings.ToLower(metric)
	switch {
	case strings.Contains(lower, "dhrystone") || strings.Contains(lower, "integer"):
		return "integer"
	case strings.Contains(lower, "whetstone") || strings.Contains(lower, "float"):
		return "float"
	case strings.Contains(lower, "copy") || strings.Contains(lower, "io"):
		return "io"
	case strings.Contains(lower, "process"):
		return "process"
	case strings.Contains(lower, "syscall"):
		return "syscall"
	case strings.Contains(lower, "pipe"):
		return "pipe"
	case strings.Contains(lower, "shell"):
		return "shell"
	case strings.Contains(lower, "index") || strings.Contains(lower, "score"):
		return "index"
	default:
		return "other"
	}
}

func newBatch(entries []models.Entry, features map[string]models.Features, history map[models.MetricKey][]float64) Batch {
	batchFeatures := make(map[string]models.Features, len(entries))
	batchHistory := make(map[string][]float64, len(entries))
	for _, e := range entries {
		key := e.Key().String()
		if f, ok := features[key]; ok {
			batchFeatures[key] = f
		}
		batchHistory[key] = history[e.Key()]
	}
	return Batch{
		ID:       contentID(entries),
		Entries:  entries,
		Features: batchFeatures,
		History:  batchHistory,
		Priority: priorityOf(entries, batchFeatures),
		Size:     len(entries),
	}
}

// contentID derives a deterministic identifier from the sorted entry set, so
// identical data always maps to the same cache key.
func contentID(entries []models.Entry) string {
	type idRow struct {
		Suite  string  `json:"suite"`
		Case   string  `json:"case"`
		Metric string  `json:"metric"`
		Value  float64 `json:"value"`
	}
	rows := make([]idRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, idRow{Suite: e.Suite, Case: e.Case, Metric: e.Metric, Value: e.Value})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Suite != rows[j].Suite {
			return rows[i].Suite < rows[j].Suite
		}
		if rows[i].Case != rows[j].Case {
			return rows[i].Case < rows[j].Case
		}
		if rows[i].Metric != rows[j].Metric {
			return rows[i].Metric < rows[j].Metric
		}
		return rows[i].Value < rows[j].Value
	})
	data, err := json.Marshal(rows)
	if err != nil {
		return "invalid"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:12]
}

// priorityOf maps the most extreme robust z-score in the batch to an integer
// priority; lower means more urgent. A z-score counts only when its history
// clears the grouping gate, matching the severity estimate used for batch
// composition.
func priorityOf(entries []models.Entry, features map[string]models.Features) int {
	priority := lowestPriority
	for _, e := range entries {
		f, ok := features[e.Key().String()]
		if !ok || f.RobustZ == nil || f.HistoryN < groupingMinHistory {
			continue
		}
		absZ := math.Abs(*f.RobustZ)
		if absZ > 100 {
			absZ = 100
		}
		if p := int(100 - absZ); p < priority {
			priority = p
		}
	}
	return priority
}
