// Package models builds the bucket the forecaster loads its model artifact
// pair from.
package models

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/obrunao/tech-challenge-fase3/cmd/forecaster/config"
	"github.com/obrunao/tech-challenge-fase3/pkg/blob"
)

// NewBucket returns the artifact source. With both a directory and an S3
// bucket configured, the local copy is read first and S3 is the fallback.
func NewBucket(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blob.Bucket, error) {
	var buckets []blob.Bucket

	if cfg.ArtifactDir != "" {
		local, err := blob.NewLocalBucket(cfg.ArtifactDir)
		if err != nil {
			return nil, fmt.Errorf("artifact dir: %w", err)
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
			return nil, fmt.Errorf("artifact bucket: %w", err)
		}
		buckets = append(buckets, remote)
	}

	switch len(buckets) {
	case 0:
		return nil, fmt.Errorf("no artifact source configured")
	case 1:
		logger.Info("model artifacts", "source", buckets[0].String())
		return buckets[0], nil
	default:
		m := blob.NewMirror(buckets...)
		logger.Info("model artifacts", "source", m.String())
		return m, nil
	}
}
