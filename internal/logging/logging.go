// Package logging builds the process-wide slog logger from configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/model"
)

// ParseLevel maps a configured level name onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New returns a logger writing to w in the configured format. Unknown
// levels fall back to info and unknown formats to text; both are reported
// through the returned logger.
func New(cfg model.LoggingConfig, w io.Writer) *slog.Logger {
	level, levelErr := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	if levelErr != nil {
		logger.Warn("invalid logging level, using info", "error", levelErr)
	}
	if format != "" && format != "json" && format != "text" {
		logger.Warn("invalid logging format, using text", "format", cfg.Format)
	}
	return logger
}

// ForComponent tags every record of l with the component name.
func ForComponent(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", name)
}
