package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the process-wide logger and installs it as the slog
// default. Format is "json" or "text"; level is debug/info/warn/error.
func Init(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// Component returns a logger tagged with a component name so every line it
// emits can be traced back to one subsystem.
func Component(name string) *slog.Logger {
	return slog.Default().With(slog.String("component", name))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
