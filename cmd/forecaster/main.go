// Package main implements the next-hour forecaster service.
// The forecaster ingests hourly weather observations, predicts the temperature
// one hour ahead for each location and serves predictions via HTTP API.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/obrunao/tech-challenge-fase3/cmd/forecaster/config"
	"github.com/obrunao/tech-challenge-fase3/cmd/forecaster/logger"
	"github.com/obrunao/tech-challenge-fase3/cmd/forecaster/metrics"
	"github.com/obrunao/tech-challenge-fase3/cmd/forecaster/models"
	"github.com/obrunao/tech-challenge-fase3/cmd/forecaster/router"
	"github.com/obrunao/tech-challenge-fase3/cmd/forecaster/store"
	"github.com/obrunao/tech-challenge-fase3/pkg/adapters"
	"github.com/obrunao/tech-challenge-fase3/pkg/httpx"
	"github.com/obrunao/tech-challenge-fase3/pkg/ingest"
)

func main() {
	cfg := config.ParseFlags()

	logger := logger.New(cfg)
	slog.SetDefault(logger)

	logger.Info("starting nexthour forecaster",
		"version", "v0.1.0",
		"locations", len(cfg.Locations),
		"interval", cfg.Interval,
	)

	observations := store.NewObservations(cfg, logger)
	predictions := store.New(cfg, logger)
	defer closeAll(logger, observations, predictions)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bucket, err := models.NewBucket(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize artifact source", "error", err)
		os.Exit(1)
	}

	adapter := adapters.NewOpenMeteoAdapter(adapters.OpenMeteoConfig{
		ForecastURL:      cfg.ForecastURL,
		ArchiveURL:       cfg.ArchiveURL,
		CollectTimeout:   cfg.CollectTimeout,
		BackfillTimeout:  cfg.BackfillTimeout,
		FailureThreshold: uint32(cfg.BreakerFailures),
		OpenTimeout:      cfg.BreakerOpenDelay,
	})
	normalizer := ingest.NewNormalizer(ingest.NormalizerConfig{Precision: cfg.Precision}, logger)
	merger := ingest.NewMerger(observations, cfg.Precision, logger)

	f := New(Options{
		Collector:    ingest.NewCollector(adapter, normalizer, merger, logger),
		Merger:       merger,
		Observations: observations,
		Predictions:  predictions,
		Bucket:       bucket,
		Metrics:      metrics.New(),
		Locations:    cfg.Locations,
		PastHours:    cfg.PastHours,
		Precision:    cfg.Precision,
		Logger:       logger,
	})

	if _, err := f.Reload(ctx); err != nil {
		logger.Warn("no model loaded; predictions are refused until POST /model/reload succeeds", "error", err)
	}

	mux := router.SetupRoutes(f, cfg.StaleAfter, logger)
	handler := httpx.RecoveryMiddleware(logger)(httpx.LoggingMiddleware(logger)(mux))
	httpServer := httpx.NewServer(cfg.Listen, handler, logger)

	go func() {
		if err := f.Run(ctx, cfg.Interval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduled collection failed", "error", err)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	logger.Info("shutting down")
	cancel()

	if err := httpServer.Stop(10 * time.Second); err != nil {
		logger.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func closeAll(logger *slog.Logger, stores ...any) {
	for _, s := range stores {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Warn("close failed", "error", err)
			}
		}
	}
}
