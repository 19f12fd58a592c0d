package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup installs the process-wide logger shared by the scheduler, the
// feed sync and the dispatchers. An unrecognized level falls back to
// info rather than erroring, so a typo in HERALD_LOG_LEVEL never
// silences the engine.
func Setup(level string) *slog.Logger {
	return setup(os.Stderr, level)
}

func setup(w io.Writer, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLevel accepts debug, info, warn or error, case-insensitive.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Component tags the default logger for one subsystem, so scheduler,
// sync and dispatch lines can be told apart in a shared stream.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}
