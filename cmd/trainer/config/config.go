// Package config provides configuration parsing for the trainer jobs.
//
// The first argument selects the job (prepare, train or audit); the rest are
// that job's flags. Flags take precedence over environment variables, which
// take precedence over defaults. A .env file is loaded first when present.
//
// Example usage:
//
//	cfg := config.ParseFlags()
//	// cfg.Command is "prepare", "train" or "audit"
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/obrunao/tech-challenge-fase3/pkg/features"
	"github.com/obrunao/tech-challenge-fase3/pkg/models"
)

// Jobs the trainer can run.
const (
	CommandPrepare = "prepare"
	CommandTrain   = "train"
	CommandAudit   = "audit"
)

// DefaultMinObservations is the stored row count below which prepare writes nothing.
const DefaultMinObservations = 30

// Usage is printed when no job is given.
const Usage = `usage: trainer <prepare|train|audit> [flags]

  prepare  build the feature snapshot from the observation store
  train    fit the forest on the snapshot and write the model artifacts
  audit    report missing hours of one location`

type Config struct {
	Command string

	// Observation store (prepare, audit)
	StoreDriver string
	StoreDSN    string

	// Feature snapshot
	SnapshotPath    string
	Compression     string
	Mirror          bool
	MinObservations int

	// Model artifact (train)
	ArtifactDir  string
	S3Bucket     string
	S3Prefix     string
	S3Region     string
	S3Endpoint   string
	TestFraction float64
	Forest       models.ForestConfig
	ReloadURL    string

	// Audit
	Latitude  float64
	Longitude float64
	Days      int

	Pushgateway string
	LogFormat   string
	LogLevel    string
}

// ParseFlags loads an optional .env file and parses os.Args. Exits with
// status 1 on invalid input.
func ParseFlags() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error: loading .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// Parse reads the job name and its flags from args.
func Parse(args []string) (*Config, error) {
	if len(args) == 0 {
		return nil, errors.New("missing job\n" + Usage)
	}
	cfg := &Config{Command: args[0]}
	switch cfg.Command {
	case CommandPrepare, CommandTrain, CommandAudit:
	default:
		return nil, fmt.Errorf("unknown job %q\n%s", cfg.Command, Usage)
	}

	fs := flag.NewFlagSet("trainer "+cfg.Command, flag.ContinueOnError)

	fs.StringVar(&cfg.SnapshotPath, "snapshot", getEnv("SNAPSHOT_PATH", "data/refined/weather_features.parquet"), "Feature snapshot path")
	fs.StringVar(&cfg.Pushgateway, "pushgateway", getEnv("PUSHGATEWAY_URL", ""), "Prometheus Pushgateway URL (optional)")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format (text|json)")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level (debug|info|warn|error)")

	if cfg.Command != CommandTrain {
		fs.StringVar(&cfg.StoreDriver, "store-driver", getEnv("STORE_DRIVER", "sqlite"), "Observation store: sqlite or postgres")
		fs.StringVar(&cfg.StoreDSN, "store-dsn", getEnv("STORE_DSN", "data/weather.db"), "sqlite path or postgres connection string")
	}

	switch cfg.Command {
	case CommandPrepare:
		fs.StringVar(&cfg.Compression, "compression", getEnv("SNAPSHOT_COMPRESSION", "snappy"), "Snapshot compression (snappy|gzip|none)")
		fs.BoolVar(&cfg.Mirror, "mirror", getEnvBool("MIRROR_FEATURES", true), "Also replace the weather_features table in the store")
		fs.IntVar(&cfg.MinObservations, "min-observations", getEnvInt("MIN_OBSERVATIONS", DefaultMinObservations), "Stored rows required to build a snapshot")

	case CommandTrain:
		def := models.DefaultForestConfig()
		fs.StringVar(&cfg.ArtifactDir, "artifact-dir", getEnv("ARTIFACT_DIR", "models"), "Local artifact directory")
		fs.StringVar(&cfg.S3Bucket, "s3-bucket", getEnv("S3_BUCKET", ""), "S3 bucket the artifacts are mirrored to (optional)")
		fs.StringVar(&cfg.S3Prefix, "s3-prefix", getEnv("S3_PREFIX", "nexthour/"), "S3 key prefix")
		fs.StringVar(&cfg.S3Region, "s3-region", getEnv("AWS_REGION", "us-east-1"), "S3 region")
		fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", getEnv("S3_ENDPOINT", ""), "Custom S3 endpoint")
		fs.Float64Var(&cfg.TestFraction, "test-fraction", getEnvFloat("TEST_FRACTION", models.DefaultTestFraction), "Share of the newest rows held out")
		fs.IntVar(&cfg.Forest.Trees, "trees", getEnvInt("FOREST_TREES", def.Trees), "Number of trees")
		fs.IntVar(&cfg.Forest.MaxDepth, "max-depth", getEnvInt("FOREST_MAX_DEPTH", def.MaxDepth), "Tree depth limit (0 = unlimited)")
		fs.IntVar(&cfg.Forest.MinLeaf, "min-leaf", getEnvInt("FOREST_MIN_LEAF", def.MinLeaf), "Minimum samples per leaf")
		fs.Float64Var(&cfg.Forest.MaxFeatures, "max-features", getEnvFloat("FOREST_MAX_FEATURES", def.MaxFeatures), "Share of columns tried per split")
		fs.Int64Var(&cfg.Forest.Seed, "seed", int64(getEnvInt("FOREST_SEED", int(def.Seed))), "Random seed")
		fs.IntVar(&cfg.Forest.Workers, "workers", getEnvInt("FOREST_WORKERS", 0), "Training goroutines (0 = GOMAXPROCS)")
		fs.StringVar(&cfg.ReloadURL, "reload-url", getEnv("FORECASTER_URL", ""), "Forecaster base URL to reload after training (optional)")

	case CommandAudit:
		fs.Float64Var(&cfg.Latitude, "lat", getEnvFloat("AUDIT_LAT", -23.55), "Latitude")
		fs.Float64Var(&cfg.Longitude, "lon", getEnvFloat("AUDIT_LON", -46.63), "Longitude")
		fs.IntVar(&cfg.Days, "days", getEnvInt("AUDIT_DAYS", 30), "Days back from the newest stored hour")
	}

	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Command != CommandTrain {
		switch c.StoreDriver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("-store-driver must be sqlite or postgres, got %q", c.StoreDriver)
		}
		if c.StoreDSN == "" {
			return fmt.Errorf("-store-dsn is required")
		}
	}
	if c.SnapshotPath == "" && c.Command != CommandAudit {
		return fmt.Errorf("-snapshot is required")
	}

	switch c.Command {
	case CommandPrepare:
		if c.MinObservations < features.MinObservations {
			return fmt.Errorf("-min-observations must be at least %d", features.MinObservations)
		}
	case CommandTrain:
		if c.ArtifactDir == "" && c.S3Bucket == "" {
			return fmt.Errorf("one of -artifact-dir or -s3-bucket is required")
		}
		if c.TestFraction <= 0 || c.TestFraction >= 1 {
			return fmt.Errorf("-test-fraction must be in (0, 1)")
		}
		if c.Forest.Trees < 1 || c.Forest.MinLeaf < 1 || c.Forest.MaxDepth < 0 {
			return fmt.Errorf("-trees and -min-leaf must be positive, -max-depth must not be negative")
		}
		if c.Forest.MaxFeatures <= 0 || c.Forest.MaxFeatures > 1 {
			return fmt.Errorf("-max-features must be in (0, 1]")
		}
	case CommandAudit:
		if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
			return fmt.Errorf("-lat/-lon out of range")
		}
		if c.Days < 1 {
			return fmt.Errorf("-days must be positive")
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// Timeout bounds a whole job run.
func (c *Config) Timeout() time.Duration {
	if c.Command == CommandTrain {
		return time.Hour
	}
	return 15 * time.Minute
}
