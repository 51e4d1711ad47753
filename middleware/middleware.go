package middleware

import (
	"context"

	"github.com/xraph/jobhub/job"
)

// Handler runs the job itself.
type Handler func(ctx context.Context) error

// Middleware wraps next for the job described by r. Returning without
// calling next skips the job; the dispatcher records the returned error.
type Middleware func(ctx context.Context, r *job.Record, next Handler) error

// Chain composes mws so that mws[0] is outermost:
//
//	Chain(Recover(), Logging(l), Tenant())  // Recover(Logging(Tenant(run)))
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, r *job.Record, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			m, inner := mws[i], h
			h = func(ctx context.Context) error { return m(ctx, r, inner) }
		}
		return h(ctx)
	}
}

// Outcomes reported by the telemetry middleware. They name the terminal
// status the dispatcher will record for the same error.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeAborted   = "aborted"
)

// outcome mirrors the dispatcher: nil succeeds, an error returned after
// the job context ended aborts, anything else fails.
func outcome(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case ctx.Err() != nil:
		return OutcomeAborted
	default:
		return OutcomeFailed
	}
}
