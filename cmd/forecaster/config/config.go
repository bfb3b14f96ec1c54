// Package config implements the next-hour forecaster config.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/obrunao/tech-challenge-fase3/pkg/ingest"
	"github.com/obrunao/tech-challenge-fase3/pkg/storage"
)

// Config holds all forecaster configuration.
type Config struct {
	Listen    string
	Locations []storage.Location
	Interval  time.Duration
	PastHours int
	Precision int

	// Provider
	ForecastURL      string
	ArchiveURL       string
	CollectTimeout   time.Duration
	BackfillTimeout  time.Duration
	BreakerFailures  int
	BreakerOpenDelay time.Duration

	// Observation store
	StoreDriver string
	StoreDSN    string

	// Prediction snapshots
	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
	StaleAfter    time.Duration

	// Model artifact
	ArtifactDir string
	S3Bucket    string
	S3Prefix    string
	S3Region    string
	S3Endpoint  string

	LogFormat string
	LogLevel  string
}

// ParseFlags loads an optional .env file, then parses command-line flags with
// environment variables as fallbacks. Exits with status 1 on invalid input.
func ParseFlags() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error: loading .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// Parse registers the forecaster flags on fs and parses args.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}
	var locations string

	// Server
	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8081"), "HTTP listen address")

	// Scheduling
	fs.StringVar(&locations, "locations", getEnv("LOCATIONS", ""), `Scheduled locations, "lat,lon;lat,lon"`)
	fs.DurationVar(&cfg.Interval, "interval", getEnvDuration("INTERVAL", time.Hour), "Collect and predict interval")
	fs.IntVar(&cfg.PastHours, "past-hours", getEnvInt("PAST_HOURS", ingest.DefaultPastHours), "Hours re-collected on each run")
	fs.IntVar(&cfg.Precision, "precision", getEnvInt("COORD_PRECISION", storage.DefaultPrecision), "Decimal places kept in coordinates")

	// Provider
	fs.StringVar(&cfg.ForecastURL, "forecast-url", getEnv("FORECAST_URL", "https://api.open-meteo.com/v1/forecast"), "Open-Meteo forecast endpoint")
	fs.StringVar(&cfg.ArchiveURL, "archive-url", getEnv("ARCHIVE_URL", "https://archive-api.open-meteo.com/v1/archive"), "Open-Meteo archive endpoint")
	fs.DurationVar(&cfg.CollectTimeout, "collect-timeout", getEnvDuration("COLLECT_TIMEOUT", 20*time.Second), "Provider timeout for recent hours")
	fs.DurationVar(&cfg.BackfillTimeout, "backfill-timeout", getEnvDuration("BACKFILL_TIMEOUT", 60*time.Second), "Provider timeout for archive ranges")
	fs.IntVar(&cfg.BreakerFailures, "breaker-failures", getEnvInt("BREAKER_FAILURES", 5), "Consecutive provider failures that open the circuit")
	fs.DurationVar(&cfg.BreakerOpenDelay, "breaker-open", getEnvDuration("BREAKER_OPEN", time.Minute), "Time the circuit stays open")

	// Observation store
	fs.StringVar(&cfg.StoreDriver, "store-driver", getEnv("STORE_DRIVER", "sqlite"), "Observation store: memory, sqlite or postgres")
	fs.StringVar(&cfg.StoreDSN, "store-dsn", getEnv("STORE_DSN", "data/weather.db"), "sqlite path or postgres connection string")

	// Prediction snapshots
	fs.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Prediction store: memory or redis")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database")
	fs.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 6*time.Hour), "Prediction TTL in redis")
	fs.DurationVar(&cfg.StaleAfter, "stale-after", getEnvDuration("STALE_AFTER", 0), "Age after which a prediction is flagged stale (default 2x interval)")

	// Model artifact
	fs.StringVar(&cfg.ArtifactDir, "artifact-dir", getEnv("ARTIFACT_DIR", "models"), "Local artifact directory")
	fs.StringVar(&cfg.S3Bucket, "s3-bucket", getEnv("S3_BUCKET", ""), "S3 bucket holding artifacts (optional)")
	fs.StringVar(&cfg.S3Prefix, "s3-prefix", getEnv("S3_PREFIX", "nexthour/"), "S3 key prefix")
	fs.StringVar(&cfg.S3Region, "s3-region", getEnv("AWS_REGION", "us-east-1"), "S3 region")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", getEnv("S3_ENDPOINT", ""), "Custom S3 endpoint")

	// Logging
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	locs, err := ParseLocations(locations, cfg.Precision)
	if err != nil {
		return nil, err
	}
	cfg.Locations = locs
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * cfg.Interval
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Interval <= 0:
		return fmt.Errorf("--interval must be positive")
	case c.PastHours < 1 || c.PastHours > ingest.MaxPastHours:
		return fmt.Errorf("--past-hours must be between 1 and %d", ingest.MaxPastHours)
	case c.Precision < 1 || c.Precision > 8:
		return fmt.Errorf("--precision must be between 1 and 8")
	case c.BreakerFailures < 1:
		return fmt.Errorf("--breaker-failures must be positive")
	}
	switch c.StoreDriver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("--store-driver must be memory, sqlite or postgres, got %q", c.StoreDriver)
	}
	if c.StoreDriver != "memory" && c.StoreDSN == "" {
		return fmt.Errorf("--store-dsn is required for %s", c.StoreDriver)
	}
	switch c.Storage {
	case "memory", "redis":
	default:
		return fmt.Errorf("--storage must be memory or redis, got %q", c.Storage)
	}
	if c.ArtifactDir == "" && c.S3Bucket == "" {
		return fmt.Errorf("one of --artifact-dir or --s3-bucket is required")
	}
	return nil
}

// ParseLocations parses "lat,lon;lat,lon". Coordinates are rounded to
// precision places and duplicates after rounding are dropped.
func ParseLocations(s string, precision int) ([]storage.Location, error) {
	var locs []storage.Location
	seen := make(map[storage.Location]bool)
	for part := range strings.SplitSeq(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lat, lon, ok := strings.Cut(part, ",")
		if !ok {
			return nil, fmt.Errorf("location %q: want lat,lon", part)
		}
		la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
		if err != nil || la < -90 || la > 90 {
			return nil, fmt.Errorf("location %q: invalid latitude", part)
		}
		lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
		if err != nil || lo < -180 || lo > 180 {
			return nil, fmt.Errorf("location %q: invalid longitude", part)
		}
		loc := storage.Location{
			Latitude:  storage.RoundCoord(la, precision),
			Longitude: storage.RoundCoord(lo, precision),
		}
		if !seen[loc] {
			seen[loc] = true
			locs = append(locs, loc)
		}
	}
	return locs, nil
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
