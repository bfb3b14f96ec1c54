package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/obrunao/tech-challenge-fase3/cmd/trainer/config"
	"github.com/obrunao/tech-challenge-fase3/cmd/trainer/logger"
	"github.com/obrunao/tech-challenge-fase3/cmd/trainer/metrics"
	"github.com/obrunao/tech-challenge-fase3/pkg/blob"
	"github.com/obrunao/tech-challenge-fase3/pkg/client"
	"github.com/obrunao/tech-challenge-fase3/pkg/storage"
)

func main() {
	cfg := config.ParseFlags()
	log := logger.New(cfg)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()

	m := metrics.New()
	err := run(ctx, cfg, m, log)

	if cfg.Pushgateway != "" {
		if perr := m.Push(context.WithoutCancel(ctx), cfg.Pushgateway); perr != nil {
			log.Warn("metrics not pushed", "error", perr)
		}
	}

	switch {
	case err == nil:
	case isSoft(err):
		log.Warn("nothing to do", "error", err)
	default:
		log.Error("job failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log *slog.Logger) error {
	switch cfg.Command {
	case config.CommandPrepare:
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		_, err = NewTrainer(store, nil, m, log).Prepare(ctx, PrepareOptions{
			SnapshotPath:    cfg.SnapshotPath,
			Compression:     cfg.Compression,
			Mirror:          cfg.Mirror,
			MinObservations: cfg.MinObservations,
		})
		return err

	case config.CommandTrain:
		bucket, err := openBucket(ctx, cfg)
		if err != nil {
			return err
		}
		res, err := NewTrainer(nil, bucket, m, log).Train(ctx, TrainOptions{
			SnapshotPath: cfg.SnapshotPath,
			TestFraction: cfg.TestFraction,
			Forest:       cfg.Forest,
		})
		if err != nil {
			return err
		}
		if cfg.ReloadURL != "" {
			notifyReload(ctx, client.NewForecasterClient(cfg.ReloadURL), res.RunID, log)
		}
		return nil

	case config.CommandAudit:
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		loc := storage.NewLocation(cfg.Latitude, cfg.Longitude)
		res, err := NewTrainer(store, nil, m, log).Audit(ctx, loc, cfg.Days)
		if err != nil {
			return err
		}
		return res.Report(os.Stdout)
	}
	return fmt.Errorf("unknown job %q", cfg.Command)
}

func openStore(ctx context.Context, cfg *config.Config) (*storage.SQLStore, error) {
	store, err := storage.OpenSQLStore(ctx, storage.SQLConfig{
		Driver: cfg.StoreDriver,
		DSN:    cfg.StoreDSN,
		Debug:  cfg.LogLevel == "debug",
	})
	if err != nil {
		return nil, fmt.Errorf("open observation store: %w", err)
	}
	return store, nil
}

// openBucket returns the artifact target: the local directory, S3, or both
// through a mirror.
func openBucket(ctx context.Context, cfg *config.Config) (blob.Bucket, error) {
	var buckets []blob.Bucket
	if cfg.ArtifactDir != "" {
		local, err := blob.NewLocalBucket(cfg.ArtifactDir)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, local)
	}
	if cfg.S3Bucket != "" {
		remote, err := blob.NewS3Bucket(ctx, blob.S3Config{
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, remote)
	}
	if len(buckets) == 1 {
		return buckets[0], nil
	}
	return blob.NewMirror(buckets...), nil
}
