package logger

import (
	"log/slog"
	"os"
)

// Setup configures the process-wide logger for the given environment and
// installs it as the slog default. Production logs JSON for ingestion;
// everything else logs text at debug level for local work.
func Setup(env string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}
