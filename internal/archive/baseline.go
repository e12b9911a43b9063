package archive

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/perfstack/perf-sentinel/internal/models"
)

// DefaultMaxSamples caps histories when the archive holds no usable samples at
// all and no explicit cap was configured.
const DefaultMaxSamples = 30

// Scanner builds per-metric baselines from the append-only run archive laid
// out as <root>/<date>/run_<id>/results.jsonl.
type Scanner struct {
	root   string
	logger *slog.Logger
}

// NewScanner constructs a Scanner over archiveRoot.
func NewScanner(archiveRoot string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{root: archiveRoot, logger: logger}
}

// BuildHistory scans archived runs newest-to-oldest and returns, per key, up
// to cap numeric values ordered newest-first. When maxSamples <= 0 the cap is
// derived from the archive: max(minSamples, most samples available for any
// key), so baselines grow as the archive accumulates. Non-numeric stored
// values are skipped without aborting the scan.
func (s *Scanner) BuildHistory(keys []models.MetricKey, minSamples, maxSamples int) (map[models.MetricKey][]float64, error) {
	files, err := s.runFiles()
	if err != nil {
		return nil, fmt.Errorf("enumerate archive runs: %w", err)
	}

	wanted := make(map[models.MetricKey]struct{}, len(keys))
	for _, k := range keys {
		wanted[k] = struct{}{}
	}

	if maxSamples <= 0 {
		maxSamples = s.dynamicCap(files, wanted, minSamples)
	}

	history := make(map[models.MetricKey][]float64, len(wanted))
	for _, path := range files {
		for _, row := range readRows(path) {
			k := row.key()
			if _, ok := wanted[k]; !ok {
				continue
			}
			v, ok := row.numericValue()
			if !ok {
				continue
			}
			if len(history[k]) < maxSamples {
				history[k] = append(history[k], v)
			}
		}
		if allCapped(wanted, history, maxSamples) {
			break
		}
	}
	return history, nil
}

// dynamicCap counts every usable sample per key across the whole archive and
// returns max(minSamples, largest per-key count).
func (s *Scanner) dynamicCap(files []string, wanted map[models.MetricKey]struct{}, minSamples int) int {
	counts := make(map[models.MetricKey]int)
	for _, path := range files {
		for _, row := range readRows(path) {
			k := row.key()
			if _, ok := wanted[k]; !ok {
				continue
			}
			if _, ok := row.numericValue(); ok {
				counts[k]++
			}
		}
	}
	if len(counts) == 0 {
		s.logger.Debug("no archived samples found, using default cap", slog.Int("cap", DefaultMaxSamples))
		return DefaultMaxSamples
	}
	maxAvailable := 0
	for _, c := range counts {
		if c > maxAvailable {
			maxAvailable = c
		}
	}
	cap := maxAvailable
	if cap < minSamples {
		cap = minSamples
	}
	s.logger.Debug("derived dynamic history cap",
		slog.Int("cap", cap), slog.Int("max_available", maxAvailable), slog.Int("keys", len(counts)))
	return cap
}

// runFiles lists archived result files newest-first. Archive directories are
// date-named, so a reverse lexical sort orders runs newest to oldest.
func (s *Scanner) runFiles() ([]string, error) {
	pattern := filepath.Join(s.root, "*", "run_*", RunFileName)
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files, nil
}

func allCapped(wanted map[models.MetricKey]struct{}, history map[models.MetricKey][]float64, cap int) bool {
	for k := range wanted {
		if len(history[k]) < cap {
			return false
		}
	}
	return true
}

// archiveRow is a lenient view of one archived observation. Value stays raw so
// a malformed value skips one sample instead of failing the file.
type archiveRow struct {
	Suite  string          `json:"suite"`
	Case   string          `json:"case"`
	Metric string          `json:"metric"`
	Value  json.RawMessage `json:"value"`
}

func (r archiveRow) key() models.MetricKey {
	return models.MetricKey{Suite: r.Suite, Case: r.Case, Metric: r.Metric}
}

func (r archiveRow) numericValue() (float64, bool) {
	if len(r.Value) == 0 || string(r.Value) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(r.Value, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(r.Value, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// readRows decodes the archive file line by line, skipping unreadable lines.
func readRows(path string) []archiveRow {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var rows []archiveRow
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row archiveRow
		if err := json.Unmarshal(line, &row); err != nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}
