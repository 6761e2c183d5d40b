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

	"github.com/sentinelstack/sentinel-heal/internal/api"
	"github.com/sentinelstack/sentinel-heal/internal/baseline"
	"github.com/sentinelstack/sentinel-heal/internal/cache"
	"github.com/sentinelstack/sentinel-heal/internal/config"
	"github.com/sentinelstack/sentinel-heal/internal/correlate"
	"github.com/sentinelstack/sentinel-heal/internal/detect"
	"github.com/sentinelstack/sentinel-heal/internal/healing"
	"github.com/sentinelstack/sentinel-heal/internal/incidents"
	"github.com/sentinelstack/sentinel-heal/internal/metrics"
	"github.com/sentinelstack/sentinel-heal/internal/normalize"
	"github.com/sentinelstack/sentinel-heal/internal/pipeline"
	"github.com/sentinelstack/sentinel-heal/internal/utils"
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
	logger.Info("starting sentinel-heal", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		provider, err := cache.NewRedisProvider(connectCtx, cache.Options{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
		})
		cancel()
		if err != nil {
			logger.Warn("redis cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	store := baseline.NewStore(cfg.Anomaly.BaselineCapacity)
	scorer := detect.NewScorer(detect.Config{
		MinSamples:          cfg.Anomaly.MinSamples,
		Contamination:       cfg.Anomaly.Contamination,
		Trees:               cfg.Anomaly.Trees,
		Subsample:           cfg.Anomaly.Subsample,
		ForecastConfidence:  cfg.Anomaly.ForecastConfidence,
		ConsecutiveBreaches: cfg.Anomaly.ConsecutiveBreaches,
		SeasonalityPeriod:   cfg.Anomaly.SeasonalityPeriod,
	}, logger)

	normalizer := normalize.NewNormalizer(logger)
	correlator := correlate.New(correlate.Config{
		SimilarityThreshold:  cfg.Correlation.SimilarityThreshold,
		SuppressionThreshold: cfg.Correlation.SuppressionThreshold,
		Window:               cfg.Correlation.Window,
		SuppressionCooldown:  cfg.Correlation.SuppressionCooldown,
		OpenSingleton:        cfg.Correlation.OpenSingleton,
	}, logger)
	aggregator := incidents.NewAggregator(incidents.Config{
		QuietPeriod: cfg.Incidents.QuietPeriod,
		Retention:   cfg.Incidents.Retention,
	}, logger)

	executor := healing.NewStandardExecutor(nil, logger)
	engine, err := healing.NewEngine(healing.Config{
		RulesPath:       cfg.Healing.RulesPath,
		ExecutorTimeout: cfg.Healing.ExecutorTimeout,
		HistoryLimit:    cfg.Healing.HistoryLimit,
	}, executor, cacheProvider, logger)
	if err != nil {
		logger.Error("failed to load healing rules", slog.Any("error", err))
		os.Exit(1)
	}

	pipe := pipeline.New(pipeline.Config{
		Interval:        cfg.Pipeline.Interval,
		SampleQueueSize: cfg.Pipeline.SampleQueueSize,
		AlertQueueSize:  cfg.Pipeline.AlertQueueSize,
		RetrainInterval: cfg.Pipeline.RetrainInterval,
		RetrainSamples:  cfg.Pipeline.RetrainSamples,
		PendingTTL:      cfg.Correlation.Window,
	}, store, scorer, normalizer, correlator, aggregator, engine, logger)

	server := api.NewServer(api.Config{
		Address:         cfg.Server.Address,
		GracefulTimeout: cfg.Server.GracefulTimeout,
		QueryTTL:        cfg.Cache.QueryTTL,
	}, api.Deps{
		Pipeline:   pipe,
		Aggregator: aggregator,
		Engine:     engine,
		Normalizer: normalizer,
		Cache:      cacheProvider,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	go pipe.Run(ctx)

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

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("sentinel-heal stopped")
}
