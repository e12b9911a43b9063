package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected default address: %s", cfg.Server.Address)
	}
	if cfg.Archive.MinSamples != 10 || cfg.Archive.MaxSamples != 0 {
		t.Fatalf("unexpected archive defaults: %+v", cfg.Archive)
	}
	if cfg.Batch.MaxSize != 10 || cfg.Batch.MinSize != 3 {
		t.Fatalf("unexpected batch defaults: %+v", cfg.Batch)
	}
	if cfg.Context.Arch != "arm64" || cfg.Context.Hypervisor != "pKVM" {
		t.Fatalf("unexpected context defaults: %+v", cfg.Context)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  address: ":9090"
archive:
  root: /data/runs
  minSamples: 15
cache:
  resultTTL: 2h
models:
  - name: primary
    apiBase: https://api.example.com/v1
    apiKey: sk-test
    model: gpt-4o
    enabled: true
    priority: 1
  - name: local
    apiBase: http://localhost:8000/v1
    apiKey: EMPTY
    model: qwen
    enabled: true
    priority: 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("expected overridden address, got %s", cfg.Server.Address)
	}
	if cfg.Archive.Root != "/data/runs" || cfg.Archive.MinSamples != 15 {
		t.Fatalf("unexpected archive config: %+v", cfg.Archive)
	}
	if cfg.Cache.ResultTTL != 2*time.Hour {
		t.Fatalf("expected 2h result TTL, got %v", cfg.Cache.ResultTTL)
	}
	// Unset file values keep their defaults.
	if cfg.Batch.MaxSize != 10 {
		t.Fatalf("expected default batch size preserved, got %d", cfg.Batch.MaxSize)
	}

	eps := cfg.Endpoints()
	if len(eps) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(eps))
	}
	if eps[0].Name != "primary" || eps[0].Model != "gpt-4o" || !eps[0].Enabled {
		t.Fatalf("unexpected endpoint: %+v", eps[0])
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PERF_SENTINEL_SERVER_ADDRESS", ":7070")
	t.Setenv("PERF_SENTINEL_MIN_SAMPLES", "25")
	t.Setenv("PERF_SENTINEL_LOG_FORMAT", "json")
	t.Setenv("PERF_SENTINEL_MODEL_API_BASE", "http://localhost:8000/v1")
	t.Setenv("PERF_SENTINEL_MODEL_NAME", "qwen")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":7070" {
		t.Fatalf("expected env address, got %s", cfg.Server.Address)
	}
	if cfg.Archive.MinSamples != 25 {
		t.Fatalf("expected env min samples, got %d", cfg.Archive.MinSamples)
	}
	if !cfg.Logging.JSON {
		t.Fatalf("expected JSON logging enabled")
	}
	if len(cfg.Models) != 1 || cfg.Models[0].APIBase != "http://localhost:8000/v1" {
		t.Fatalf("expected env-injected endpoint, got %+v", cfg.Models)
	}
	// No key provided means the unauthenticated sentinel.
	if cfg.Models[0].APIKey != "EMPTY" {
		t.Fatalf("expected EMPTY sentinel key, got %q", cfg.Models[0].APIKey)
	}
}
