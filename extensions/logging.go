package extensions

import (
	"context"
	"log/slog"
	"time"

	"github.com/pumped-fn/incr"
)

// LoggingExtension logs every operation with its duration.
type LoggingExtension struct {
	incr.BaseExtension
	logger *slog.Logger
	level  slog.Level
}

// NewLoggingExtension creates a logging extension writing records at level.
func NewLoggingExtension(logger *slog.Logger, level slog.Level) *LoggingExtension {
	return &LoggingExtension{
		BaseExtension: incr.NewBaseExtension("logging"),
		logger:        logger,
		level:         level,
	}
}

func (e *LoggingExtension) Wrap(next func(), op *incr.Operation) {
	ctx := context.Background()
	if !e.logger.Enabled(ctx, e.level) {
		next()
		return
	}

	start := time.Now()
	completed := false
	defer func() {
		attrs := []slog.Attr{
			slog.String("op", string(op.Kind)),
			slog.String("node", label(op)),
			slog.String("version", op.Version.String()),
			slog.Duration("duration", time.Since(start)),
		}
		if completed {
			e.logger.LogAttrs(ctx, e.level, "operation completed", attrs...)
		} else {
			e.logger.LogAttrs(ctx, e.level, "operation aborted", attrs...)
		}
	}()

	next()
	completed = true
}

func (e *LoggingExtension) OnPanic(op *incr.Operation, recovered any, stack []byte) {
	e.logger.Error("evaluation panicked", "node", label(op), "panic", recovered)
}

func (e *LoggingExtension) OnCleanupError(err *incr.CleanupError) bool {
	e.logger.Warn("cleanup failed", "node", err.Name, "during", string(err.Context), "error", err.Err)
	return true
}

func label(op *incr.Operation) string {
	if op.Name != "" {
		return op.Name
	}
	return op.Node.String()
}
