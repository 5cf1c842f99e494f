// Package logging builds the slog loggers used by kmeval commands.
package logging

import (
	"io"
	"log/slog"
)

// Service is attached to every record as the "service" attribute.
const Service = "kmeval"

// Options configures New.
type Options struct {
	// Verbose lowers the level from INFO to DEBUG.
	Verbose bool

	// Format is "text" or "json". Anything else is treated as text.
	Format string
}

// New returns a logger writing to w with the service attribute attached.
func New(w io.Writer, opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if opts.Format == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler).With("service", Service)
}

// WithRun scopes logger to one evaluation run.
func WithRun(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With("run_id", runID)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
