// Package logger provides structured logging configuration for the trainer.
//
// It creates slog.Logger instances according to the trainer Config, with text
// or JSON output on stdout and a configurable level (debug, info, warn, error).
package logger

import (
	"log/slog"
	"os"

	"github.com/obrunao/tech-challenge-fase3/cmd/trainer/config"
)

func New(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler).With("job", cfg.Command)
}
