package logging

import (
	"log/slog"
	"os"
)

// NewLogger creates the agent's structured logger. Output is
// human-readable text on stderr; debug raises the level from INFO to
// DEBUG (the -g flag).
func NewLogger(debug bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if debug {
		opts.Level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
