package logger

import (
	"context"
	"log/slog"
	"time"
)

// Operation tracks one named phase of a run (prepare, apply) from start to
// outcome. Phases are short and strictly sequential, so the start line logs
// at debug and only the outcome surfaces at info or error.
type Operation struct {
	log   *Logger
	ctx   context.Context
	start time.Time
}

// StartOp begins a phase. args attach to every line the operation logs.
func (l *Logger) StartOp(ctx context.Context, name string, args ...any) *Operation {
	log := l.With(append([]any{slog.String("operation", name)}, args...)...)
	log.DebugContext(ctx, "phase started")
	return &Operation{log: log, ctx: ctx, start: time.Now()}
}

// Complete logs the successful outcome with the elapsed time.
func (op *Operation) Complete(msg string, args ...any) {
	attrs := append([]any{slog.Duration("duration", time.Since(op.start))}, args...)
	op.log.InfoContext(op.ctx, msg, attrs...)
}

// Fail logs the failed outcome, enriching domain errors with their code.
func (op *Operation) Fail(err error, msg string, args ...any) {
	attrs := append([]any{slog.Duration("duration", time.Since(op.start))}, args...)
	op.log.ErrorCtx(op.ctx, msg, err, attrs...)
}
