package tinyvec

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with tinyvec-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return newLogger(os.Stderr, level, true)
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return newLogger(os.Stderr, level, false)
}

func newLogger(w io.Writer, level slog.Level, json bool) *Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithDimension adds a dimension field to the logger.
func (l *Logger) WithDimension(dim int) *Logger {
	return &Logger{
		Logger: l.Logger.With("dimension", dim),
	}
}

// LogFlush logs the outcome of draining one collection's change log.
func (l *Logger) LogFlush(ctx context.Context, collection string, c Changes, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"collection", collection,
			"adds", len(c.Add),
			"updates", len(c.Update),
			"deletes", len(c.Delete),
			"error", err,
		)
		return
	}
	if c.Empty() {
		return
	}
	l.DebugContext(ctx, "flush completed",
		"collection", collection,
		"adds", len(c.Add),
		"updates", len(c.Update),
		"deletes", len(c.Delete),
	)
}

// LogCommit logs a registry commit.
func (l *Logger) LogCommit(ctx context.Context, collections int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"count", collections,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "commit completed",
			"count", collections,
		)
	}
}

// LogLoad logs the load of a persisted collection.
func (l *Logger) LogLoad(ctx context.Context, collection string, rows int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "load failed",
			"collection", collection,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "collection loaded",
			"collection", collection,
			"rows", rows,
		)
	}
}

// LogCollection logs a collection lifecycle event such as create or delete.
func (l *Logger) LogCollection(ctx context.Context, event, collection string, err error) {
	if err != nil {
		l.ErrorContext(ctx, event+" collection failed",
			"collection", collection,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, event+" collection",
			"collection", collection,
		)
	}
}
