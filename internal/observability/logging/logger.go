package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewJSONLogger builds the process-wide structured logger. Output goes to
// stderr so the ingest CLI keeps stdout free, and every record carries the
// service name for cross-process correlation between api and ingest.
func NewJSONLogger(service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler).With("service", service)
}

func parseLevel(level string) slog.Level {
	text := strings.TrimSpace(level)
	if strings.EqualFold(text, "warning") {
		text = "warn"
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(text)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
