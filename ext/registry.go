package ext

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/jobhub/job"
)

// Registry fans lifecycle events out to extensions in registration
// order. Hook errors and panics are logged and never reach the caller:
// emits run on worker goroutines in the middle of a status change.
//
// Register everything before the engine starts.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger
}

// NewRegistry returns an empty registry that logs hook failures to logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register appends e.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
}

// Extensions returns the registered extensions in order.
func (r *Registry) Extensions() []Extension { return r.extensions }

// emit calls fn for every extension implementing H.
func emit[H any](r *Registry, hook string, fn func(H) error) {
	for _, e := range r.extensions {
		h, ok := e.(H)
		if !ok {
			continue
		}
		r.call(hook, e.Name(), func() error { return fn(h) })
	}
}

func (r *Registry) call(hook, name string, fn func() error) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("extension hook panicked",
				slog.String("hook", hook),
				slog.String("extension", name),
				slog.String("panic", fmt.Sprint(v)),
			)
		}
	}()
	if err := fn(); err != nil {
		r.logger.Warn("extension hook error",
			slog.String("hook", hook),
			slog.String("extension", name),
			slog.String("error", err.Error()),
		)
	}
}

// EmitJobEnqueued notifies JobEnqueued implementations.
func (r *Registry) EmitJobEnqueued(ctx context.Context, rec *job.Record) {
	emit(r, "OnJobEnqueued", func(h JobEnqueued) error { return h.OnJobEnqueued(ctx, rec) })
}

// EmitJobRunning notifies JobRunning implementations.
func (r *Registry) EmitJobRunning(ctx context.Context, rec *job.Record) {
	emit(r, "OnJobRunning", func(h JobRunning) error { return h.OnJobRunning(ctx, rec) })
}

// EmitJobSucceeded notifies JobSucceeded implementations.
func (r *Registry) EmitJobSucceeded(ctx context.Context, rec *job.Record, elapsed time.Duration) {
	emit(r, "OnJobSucceeded", func(h JobSucceeded) error { return h.OnJobSucceeded(ctx, rec, elapsed) })
}

// EmitJobFailed notifies JobFailed implementations.
func (r *Registry) EmitJobFailed(ctx context.Context, rec *job.Record, cause error) {
	emit(r, "OnJobFailed", func(h JobFailed) error { return h.OnJobFailed(ctx, rec, cause) })
}

// EmitJobAborted notifies JobAborted implementations.
func (r *Registry) EmitJobAborted(ctx context.Context, rec *job.Record) {
	emit(r, "OnJobAborted", func(h JobAborted) error { return h.OnJobAborted(ctx, rec) })
}

// EmitShutdown notifies Shutdown implementations.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, "OnShutdown", func(h Shutdown) error { return h.OnShutdown(ctx) })
}
