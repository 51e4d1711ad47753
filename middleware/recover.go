package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/jobhub/job"
)

// PanicError is returned by Recover when the handler panicked.
// It implements job.StackTracer so the stack lands in the record trace.
type PanicError struct {
	Kind  string
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in job %s: %v", e.Kind, e.Value)
}

// StackTrace returns the goroutine stack captured at the panic.
func (e *PanicError) StackTrace() string { return e.Stack }

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

var _ job.StackTracer = (*PanicError)(nil)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to a *PanicError and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, r *job.Record, next Handler) (retErr error) {
		defer func() {
			if v := recover(); v != nil {
				stack := string(debug.Stack())
				logger.Error("job handler panicked",
					slog.String("job_kind", r.Kind),
					slog.String("job_id", r.ID.String()),
					slog.Any("panic", v),
					slog.String("stack", stack),
				)
				retErr = &PanicError{Kind: r.Kind, Value: v, Stack: stack}
			}
		}()
		return next(ctx)
	}
}
