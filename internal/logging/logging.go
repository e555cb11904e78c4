package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New builds the root text logger at the configured verbosity. Pipeline
// components derive their own loggers via Component.
func New(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

// Component tags a derived logger with the pipeline component name so every
// record carries its origin.
func Component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With("component", name)
}

// parseLevel understands debug/info/warn/error; anything else means info.
func parseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo
	}
	return level
}
