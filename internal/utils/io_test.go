package utils

import (
	"os"
	"path/filepath"
	"testing"
)

type sampleRow struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func TestJSONLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.jsonl")
	rows := []sampleRow{{Name: "a", Value: 1}, {Name: "b", Value: 2.5}}

	if err := WriteJSONL(path, rows); err != nil {
		t.Fatalf("WriteJSONL: %v", err)
	}
	got, err := ReadJSONL[sampleRow](path)
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if len(got) != 2 || got[0].Name != "a" || got[1].Value != 2.5 {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func TestReadJSONLMissingFile(t *testing.T) {
	got, err := ReadJSONL[sampleRow](filepath.Join(t.TempDir(), "absent.jsonl"))
	if err != nil {
		t.Fatalf("expected missing file treated as empty, got %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no rows, got %+v", got)
	}
}

func TestAppendJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.jsonl")
	if err := AppendJSONL(path, sampleRow{Name: "a"}); err != nil {
		t.Fatalf("AppendJSONL: %v", err)
	}
	if err := AppendJSONL(path, sampleRow{Name: "b"}); err != nil {
		t.Fatalf("AppendJSONL: %v", err)
	}
	got, err := ReadJSONL[sampleRow](path)
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if len(got) != 2 || got[1].Name != "b" {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func TestWriteJSONCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "obj.json")
	if err := WriteJSON(path, sampleRow{Name: "a"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var got sampleRow
	if err := ReadJSON(path, &got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Name != "a" {
		t.Fatalf("unexpected object: %+v", got)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("expected parent dirs created: %v", err)
	}
}
