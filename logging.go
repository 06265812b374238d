package nfscache

import (
	"io"
	"log/slog"

	"github.com/lmittmann/tint"
)

// NewConsoleHandler returns a colorized, human-readable slog.Handler
// suited to an interactive terminal, wrapping github.com/lmittmann/tint.
// JSON/text output for machine consumption should use slog's own
// handlers instead; this one is for the demo CLI and local development.
func NewConsoleHandler(w io.Writer, level slog.Level) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
	})
}
