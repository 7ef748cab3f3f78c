package graphmat

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/graphmat/store"
)

// Logger wraps slog.Logger with graphmat-specific context.
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
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithRunID adds a run_id field to the logger.
func (l *Logger) WithRunID(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("run_id", id),
	}
}

// WithWorker adds a worker field to the logger.
func (l *Logger) WithWorker(id int) *Logger {
	return &Logger{
		Logger: l.Logger.With("worker", id),
	}
}

// LogRunStart logs the plan of a run.
func (l *Logger) LogRunStart(ctx context.Context, mode string, units int64, shards, workers int) {
	l.InfoContext(ctx, "run started",
		"mode", mode,
		"units", units,
		"shards", shards,
		"workers", workers,
	)
}

// LogRunComplete logs the outcome of a run.
func (l *Logger) LogRunComplete(ctx context.Context, processed int64, failed int, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "run failed",
			"processed", processed,
			"failed", failed,
			"duration", d,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "run completed",
			"processed", processed,
			"failed", failed,
			"duration", d,
		)
	}
}

// LogShard logs a finished shard.
func (l *Logger) LogShard(ctx context.Context, worker, shard, attempts int, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "shard failed",
			"worker", worker,
			"shard", shard,
			"attempts", attempts,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "shard completed",
			"worker", worker,
			"shard", shard,
			"duration", d,
		)
	}
}

// LogUnitFailure logs a unit recorded in the ledger.
func (l *Logger) LogUnitFailure(ctx context.Context, id string, err error) {
	l.WarnContext(ctx, "unit failed",
		"id", id,
		"reason", err,
	)
}

// LogBulkFailure logs a rejected bulk item.
func (l *Logger) LogBulkFailure(ctx context.Context, index string, f store.ItemFailure) {
	l.WarnContext(ctx, "bulk item failed",
		"index", index,
		"id", f.ID,
		"status", f.Status,
		"reason", f.Reason,
	)
}

// LogLedger logs the persisted failure ledger.
func (l *Logger) LogLedger(ctx context.Context, name string, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "ledger write failed",
			"ledger", name,
			"failed", count,
			"error", err,
		)
	} else {
		l.WarnContext(ctx, "units failed, ledger written",
			"ledger", name,
			"failed", count,
		)
	}
}

// Timed starts a timer and returns a func that logs "<label> took <d>".
//
//	defer logger.Timed(ctx, "process 100 nodes")()
func (l *Logger) Timed(ctx context.Context, label string) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		d := time.Since(start)
		l.InfoContext(ctx, label+" took "+d.Round(time.Millisecond).String(), "duration", d)
		return d
	}
}
