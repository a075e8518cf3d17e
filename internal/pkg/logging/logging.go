// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level. The
// empty string is info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// New builds a logger writing to w. format is "json" (default) or "text".
// attrs are attached to every record, typically the service name.
func New(w io.Writer, level, format string, attrs ...any) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With(attrs...), err
}

// Setup installs a stdout logger as the slog default. An unknown level falls
// back to info and is reported through the new logger.
func Setup(level, format string, attrs ...any) {
	logger, err := New(os.Stdout, level, format, attrs...)
	slog.SetDefault(logger)
	if err != nil {
		logger.Warn("invalid log level, using info", "error", err)
	}
}
