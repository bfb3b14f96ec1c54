// Package logger provides structured logging configuration for the forecaster.
//
// It creates slog.Logger instances with text or JSON output and a
// configurable level (debug, info, warn, error). Logs go to stdout.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/obrunao/tech-challenge-fase3/cmd/forecaster/config"
)

func New(cfg *config.Config) *slog.Logger {
	return Build(os.Stdout, cfg.LogFormat, cfg.LogLevel)
}

// Build creates a logger writing to w. Unknown levels fall back to info and
// any format other than "json" yields text.
func Build(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to its slog.Level.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
