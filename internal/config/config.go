// Package config loads service configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/perfstack/perf-sentinel/internal/analysis"
)

// Config captures the settings required to boot the analysis service.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Archive ArchiveConfig `yaml:"archive"`
	Batch   BatchConfig   `yaml:"batch"`
	Cache   CacheConfig   `yaml:"cache"`
	Models  []ModelConfig `yaml:"models"`
	Context ContextConfig `yaml:"context"`
	Workers WorkerConfig  `yaml:"workers"`
	Logging LoggingConfig `yaml:"logging"`
	Tracker TrackerConfig `yaml:"tracker"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// ArchiveConfig locates historical runs and tunes baseline construction.
type ArchiveConfig struct {
	Root string `yaml:"root"`
	// MinSamples is the floor below which a metric is skipped entirely.
	MinSamples int `yaml:"minSamples"`
	// MaxSamples caps baseline depth; zero or negative selects the
	// dynamic cap derived from what the archive actually holds.
	MaxSamples int `yaml:"maxSamples"`
}

// BatchConfig tunes batch grouping and splitting.
type BatchConfig struct {
	MaxSize int `yaml:"maxSize"`
	MinSize int `yaml:"minSize"`
}

// CacheConfig selects and tunes the analysis-result cache. When Addr is set
// the shared Valkey backend is used, otherwise results cache to Dir on local
// disk.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Dir          string        `yaml:"dir"`
	ResultTTL    time.Duration `yaml:"resultTTL"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// ModelConfig describes one analysis model endpoint.
type ModelConfig struct {
	Name     string        `yaml:"name"`
	APIBase  string        `yaml:"apiBase"`
	APIKey   string        `yaml:"apiKey"`
	Model    string        `yaml:"model"`
	Enabled  bool          `yaml:"enabled"`
	Priority int           `yaml:"priority"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ContextConfig describes the measured platform, forwarded with every
// analysis request.
type ContextConfig struct {
	Arch       string `yaml:"arch"`
	OS         string `yaml:"os"`
	Hypervisor string `yaml:"hypervisor"`
	Suite      string `yaml:"suite"`
}

// WorkerConfig sizes the analysis pool.
type WorkerConfig struct {
	Count     int `yaml:"count"`
	QueueSize int `yaml:"queueSize"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// TrackerConfig controls job-progress persistence.
type TrackerConfig struct {
	Path string `yaml:"path"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("PERF_SENTINEL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// Endpoints converts the model section into analysis endpoints.
func (c *Config) Endpoints() []*analysis.Endpoint {
	eps := make([]*analysis.Endpoint, 0, len(c.Models))
	for _, m := range c.Models {
		eps = append(eps, &analysis.Endpoint{
			Name:     m.Name,
			APIBase:  m.APIBase,
			APIKey:   m.APIKey,
			Model:    m.Model,
			Enabled:  m.Enabled,
			Priority: m.Priority,
			Timeout:  m.Timeout,
		})
	}
	return eps
}

// RunContext converts the context section into a request context.
func (c *Config) RunContext() analysis.RunContext {
	return analysis.RunContext{
		Arch:       c.Context.Arch,
		OS:         c.Context.OS,
		Hypervisor: c.Context.Hypervisor,
		Suite:      c.Context.Suite,
	}
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Archive: ArchiveConfig{
			Root:       "archive",
			MinSamples: 10,
			MaxSamples: 0,
		},
		Batch: BatchConfig{
			MaxSize: 10,
			MinSize: 3,
		},
		Cache: CacheConfig{
			Enabled:      true,
			Dir:          ".perf-sentinel/cache",
			ResultTTL:    24 * time.Hour,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Context: ContextConfig{
			Arch:       "arm64",
			OS:         "linux",
			Hypervisor: "pKVM",
			Suite:      "benchmark",
		},
		Workers: WorkerConfig{Count: 2, QueueSize: 8},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Tracker: TrackerConfig{Path: ".perf-sentinel/progress.json"},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PERF_SENTINEL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("PERF_SENTINEL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("PERF_SENTINEL_ARCHIVE_ROOT"); v != "" {
		cfg.Archive.Root = v
	}
	if v := os.Getenv("PERF_SENTINEL_MIN_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Archive.MinSamples = n
		}
	}
	if v := os.Getenv("PERF_SENTINEL_MAX_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Archive.MaxSamples = n
		}
	}
	if v := os.Getenv("PERF_SENTINEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PERF_SENTINEL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("PERF_SENTINEL_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("PERF_SENTINEL_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("PERF_SENTINEL_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("PERF_SENTINEL_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("PERF_SENTINEL_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("PERF_SENTINEL_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("PERF_SENTINEL_CACHE_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("PERF_SENTINEL_CACHE_RESULT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ResultTTL = d
		}
	}
	if v := os.Getenv("PERF_SENTINEL_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers.Count = n
		}
	}
	if v := os.Getenv("PERF_SENTINEL_TRACKER_PATH"); v != "" {
		cfg.Tracker.Path = v
	}

	// A single endpoint can be injected without a config file, which is how
	// CI jobs typically point the service at a local inference gateway.
	if base := os.Getenv("PERF_SENTINEL_MODEL_API_BASE"); base != "" {
		m := ModelConfig{
			Name:    "env",
			APIBase: base,
			APIKey:  os.Getenv("PERF_SENTINEL_MODEL_API_KEY"),
			Model:   os.Getenv("PERF_SENTINEL_MODEL_NAME"),
			Enabled: true,
		}
		if m.APIKey == "" {
			m.APIKey = analysis.CredentialEmpty
		}
		cfg.Models = append(cfg.Models, m)
	}
}
