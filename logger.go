package tmem

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with cache-specific context.
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
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithKey adds a key field to the logger.
func (l *Logger) WithKey(key uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("key", key),
	}
}

// LogOpen logs cache construction.
func (l *Logger) LogOpen(ctx context.Context, capacity, shards int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "cache open failed",
			"capacity", capacity,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "cache opened",
			"capacity", capacity,
			"shards", shards,
			"bytes", int64(capacity)*PageSize,
		)
	}
}

// LogStore logs a store operation. Running out of slots is expected under
// pressure and logged at debug level.
func (l *Logger) LogStore(ctx context.Context, key uint64, replaced bool, err error) {
	if err != nil {
		l.DebugContext(ctx, "store refused",
			"key", key,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "store completed",
			"key", key,
			"replaced", replaced,
		)
	}
}

// LogLoad logs a load operation.
func (l *Logger) LogLoad(ctx context.Context, key uint64, err error) {
	if err != nil {
		l.DebugContext(ctx, "load missed",
			"key", key,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "load completed",
			"key", key,
		)
	}
}

// LogInvalidate logs an invalidate operation.
func (l *Logger) LogInvalidate(ctx context.Context, key uint64, found bool) {
	l.DebugContext(ctx, "invalidate completed",
		"key", key,
		"found", found,
	)
}

// LogInvalidateAll logs a full drain.
func (l *Logger) LogInvalidateAll(ctx context.Context, drained int) {
	l.InfoContext(ctx, "invalidate all completed",
		"drained", drained,
	)
}

// LogViolation logs a detected slot ownership violation.
func (l *Logger) LogViolation(ctx context.Context, err error) {
	l.ErrorContext(ctx, "slot protocol violation",
		"error", err,
	)
}

// LogTeardown logs cache teardown. Pages still cached at Close are dropped.
func (l *Logger) LogTeardown(ctx context.Context, leftover int, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "cache teardown failed",
			"leftover_pages", leftover,
			"error", err,
		)
	case leftover > 0:
		l.WarnContext(ctx, "cache closed with pages still cached",
			"leftover_pages", leftover,
		)
	default:
		l.InfoContext(ctx, "cache closed")
	}
}
