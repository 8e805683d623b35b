package cmd

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// setupLogging installs the process-wide slog handler on stderr.
// PUNCH_LOG_LEVEL picks the level (default warn so CLI output stays clean),
// PUNCH_LOG_FORMAT picks "text" (default) or "json".
func setupLogging() {
	slog.SetDefault(slog.New(newLogHandler(os.Stderr, os.Getenv("PUNCH_LOG_LEVEL"), os.Getenv("PUNCH_LOG_FORMAT"))))
}

func newLogHandler(w io.Writer, levelName, format string) slog.Handler {
	var level slog.Level
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
