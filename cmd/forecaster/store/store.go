// Package store provides storage backend initialization for the forecaster.
//
// Two stores are built from the configuration:
//
//   - the Observation Store (memory, sqlite or postgres), holding the hourly
//     history that ingestion appends to and the feature builder reads;
//
//   - the prediction store (memory or redis), holding the latest next-hour
//     prediction per location for the HTTP API.
//
// Initialization is fail-fast: New and NewObservations exit the process when
// a backend is unreachable, so the forecaster never runs half configured.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/obrunao/tech-challenge-fase3/cmd/forecaster/config"
	"github.com/obrunao/tech-challenge-fase3/pkg/storage"
)

const pingTimeout = 5 * time.Second

// New creates the prediction store, exiting on failure.
func New(cfg *config.Config, logger *slog.Logger) storage.Store {
	s, err := OpenPredictions(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize prediction store", "storage", cfg.Storage, "error", err)
		os.Exit(1)
	}
	return s
}

// OpenPredictions creates the prediction store selected by cfg.Storage.
func OpenPredictions(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage {
	case "redis":
		logger.Info("initializing redis storage",
			"addr", cfg.RedisAddr,
			"db", cfg.RedisDB,
			"ttl", cfg.RedisTTL,
		)
		redisStore, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if err := redisStore.Ping(ctx); err != nil {
			_ = redisStore.Close()
			return nil, fmt.Errorf("redis health check: %w", err)
		}
		logger.Info("redis storage initialized successfully")
		return redisStore, nil

	case "memory":
		logger.Info("initializing in-memory prediction storage")
		return storage.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("invalid storage type %q", cfg.Storage)
	}
}

// NewObservations creates the Observation Store, exiting on failure.
func NewObservations(cfg *config.Config, logger *slog.Logger) storage.ObservationStore {
	s, err := OpenObservations(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize observation store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	return s
}

// OpenObservations creates the Observation Store selected by cfg.StoreDriver.
// SQL stores are migrated and pinged before being returned.
func OpenObservations(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.ObservationStore, error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("observations kept in memory; history is lost on restart")
		return storage.NewMemoryObservationStore(), nil
	}

	logger.Info("initializing sql observation store", "driver", cfg.StoreDriver)
	s, err := storage.OpenSQLStore(ctx, storage.SQLConfig{
		Driver: cfg.StoreDriver,
		DSN:    cfg.StoreDSN,
		Debug:  cfg.LogLevel == "debug",
	})
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.Ping(pctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
