package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/perfstack/perf-sentinel/internal/analysis"
	"github.com/perfstack/perf-sentinel/internal/api"
	"github.com/perfstack/perf-sentinel/internal/archive"
	"github.com/perfstack/perf-sentinel/internal/batch"
	"github.com/perfstack/perf-sentinel/internal/cache"
	"github.com/perfstack/perf-sentinel/internal/config"
	"github.com/perfstack/perf-sentinel/internal/detector"
	"github.com/perfstack/perf-sentinel/internal/engine"
	"github.com/perfstack/perf-sentinel/internal/metrics"
	"github.com/perfstack/perf-sentinel/internal/progress"
	"github.com/perfstack/perf-sentinel/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting perf-sentinel", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	cacheProvider := buildCache(cfg, logger)
	defer cacheProvider.Close()

	heuristic := detector.New(cfg.Archive.MinSamples, logger)
	scanner := archive.NewScanner(cfg.Archive.Root, logger)
	optimizer := batch.NewOptimizer(cfg.Batch.MaxSize, cfg.Batch.MinSize, logger)
	orchestrator := analysis.NewOrchestrator(cfg.Endpoints(), cfg.RunContext(), heuristic, logger)
	tracker := progress.NewTracker(cfg.Tracker.Path, logger)

	analysisEngine := engine.New(scanner, optimizer, orchestrator, heuristic, cacheProvider, tracker, engine.Config{
		MinSamples: cfg.Archive.MinSamples,
		MaxSamples: cfg.Archive.MaxSamples,
		ResultTTL:  cfg.Cache.ResultTTL,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := engine.NewPool(ctx, analysisEngine, cfg.Workers.Count, cfg.Workers.QueueSize, logger)
	server := api.NewServer(cfg.Server.Address, pool, tracker, cfg.Archive.Root, logger)

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	pool.Shutdown()

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("perf-sentinel stopped")
}

// buildCache selects the result cache: shared Valkey when an address is
// configured, disk otherwise, noop when caching is off or setup fails.
func buildCache(cfg *config.Config, logger *slog.Logger) cache.Provider {
	if !cfg.Cache.Enabled {
		return cache.NoopProvider{}
	}
	if cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable, falling back to disk", slog.Any("error", err))
		} else {
			return provider
		}
	}
	provider, err := cache.NewDiskProvider(cfg.Cache.Dir)
	if err != nil {
		logger.Warn("disk cache unavailable, caching disabled", slog.Any("error", err))
		return cache.NoopProvider{}
	}
	return provider
}
