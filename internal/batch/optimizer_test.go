package batch

import (
	"fmt"
	"testing"

	"github.com/perfstack/perf-sentinel/internal/models"
)

func entry(suite, kase, metric string, value float64) models.Entry {
	return models.Entry{Suite: suite, Case: kase, Metric: metric, Value: value}
}

// anomalousHistory has median 100 and MAD 3 with enough depth to pass the
// grouping gate.
func anomalousHistory() []float64 {
	base := []float64{95, 97, 99, 100, 100, 101, 103, 105, 95, 105}
	out := append([]float64(nil), base...)
	out = append(out, base...)
	return out
}

func TestContentIDDeterministic(t *testing.T) {
	a := entry("unixbench", "c1", "dhrystone", 100)
	b := entry("unixbench", "c1", "whetstone", 50)
	c := entry("unixbench", "c2", "pipe", 75)

	id1 := contentID([]models.Entry{a, b, c})
	id2 := contentID([]models.Entry{c, a, b})
	if id1 != id2 {
		t.Fatalf("expected order-independent ID, got %s vs %s", id1, id2)
	}
	if len(id1) != 12 {
		t.Fatalf("expected 12-char ID, got %q", id1)
	}

	changed := entry("unixbench", "c1", "dhrystone", 101)
	if id3 := contentID([]models.Entry{changed, b, c}); id3 == id1 {
		t.Fatalf("expected a value change to change the ID")
	}
}

func TestOptimizeGroupsBySuiteAndSeverity(t *testing.T) {
	normal := entry("unixbench", "c1", "dhrystone", 100)
	anomalous := entry("unixbench", "c2", "whetstone", 150)
	otherSuite := entry("lmbench", "c1", "syscall", 100)

	history := map[models.MetricKey][]float64{
		normal.Key():     anomalousHistory(),
		anomalous.Key():  anomalousHistory(),
		otherSuite.Key(): anomalousHistory(),
	}

	o := NewOptimizer(10, 3, nil)
	batches := o.Optimize([]models.Entry{normal, anomalous, otherSuite}, history)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches (suite x severity), got %d", len(batches))
	}
	// The anomalous group carries the more urgent (lower) priority and sorts
	// first.
	if batches[0].Entries[0].Metric != "whetstone" {
		t.Fatalf("expected the anomalous batch first, got %+v", batches[0].Entries)
	}
	if batches[0].Priority >= batches[1].Priority {
		t.Fatalf("expected ascending priority, got %d then %d", batches[0].Priority, batches[1].Priority)
	}
}

func TestOptimizeThinHistoryGroupsNormal(t *testing.T) {
	// A huge deviation with a thin baseline must not be grouped as anomalous.
	e := entry("unixbench", "c1", "dhrystone", 1000)
	history := map[models.MetricKey][]float64{e.Key(): {95, 100, 105}}

	o := NewOptimizer(10, 3, nil)
	batches := o.Optimize([]models.Entry{e}, history)
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	if batches[0].Priority != lowestPriority {
		t.Fatalf("expected lowest priority for an unassessable entry, got %d", batches[0].Priority)
	}
}

func TestSplitLargeGroupByCategory(t *testing.T) {
	var entries []models.Entry
	for i := 0; i < 8; i++ {
		entries = append(entries, entry("unixbench", fmt.Sprintf("c%d", i), "dhrystone", 100))
	}
	for i := 0; i < 8; i++ {
		entries = append(entries, entry("unixbench", fmt.Sprintf("c%d", i), "file_copy", 100))
	}
	history := map[models.MetricKey][]float64{}

	o := NewOptimizer(10, 3, nil)
	batches := o.Optimize(entries, history)
	if len(batches) != 2 {
		t.Fatalf("expected a split into 2 category batches, got %d", len(batches))
	}
	for _, b := range batches {
		if b.Size > 10 {
			t.Fatalf("batch exceeds max size: %d", b.Size)
		}
		first := metricCategory(b.Entries[0].Metric)
		for _, e := range b.Entries {
			if metricCategory(e.Metric) != first {
				t.Fatalf("mixed categories in one split batch")
			}
		}
	}
}

func TestSplitMergesUndersizedChunk(t *testing.T) {
	// 12 entries of one category chunk into 10+2; the trailing 2 fold into
	// the previous batch.
	var entries []models.Entry
	for i := 0; i < 12; i++ {
		entries = append(entries, entry("unixbench", fmt.Sprintf("c%02d", i), "dhrystone", 100))
	}
	history := map[models.MetricKey][]float64{}

	o := NewOptimizer(10, 3, nil)
	batches := o.Optimize(entries, history)
	if len(batches) != 1 {
		t.Fatalf("expected the undersized chunk to merge, got %d batches", len(batches))
	}
	if batches[0].Size != 12 {
		t.Fatalf("expected merged batch of 12, got %d", batches[0].Size)
	}
}

func TestBatchCarriesFeaturesAndHistory(t *testing.T) {
	e := entry("unixbench", "c1", "dhrystone", 150)
	history := map[models.MetricKey][]float64{e.Key(): anomalousHistory()}

	o := NewOptimizer(10, 3, nil)
	batches := o.Optimize([]models.Entry{e}, history)
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	key := e.Key().String()
	f, ok := batches[0].Features[key]
	if !ok || f.RobustZ == nil {
		t.Fatalf("expected features with robust z for %s", key)
	}
	if len(batches[0].History[key]) != 20 {
		t.Fatalf("expected history carried into the batch, got %d samples", len(batches[0].History[key]))
	}
}
