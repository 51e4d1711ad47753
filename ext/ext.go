package ext

import (
	"context"
	"time"

	"github.com/xraph/jobhub/job"
)

// Extension is anything registered with a Registry. It opts in to events
// by also implementing one or more of the hook interfaces below.
type Extension interface {
	Name() string
}

// JobEnqueued fires after a record is persisted in PENDING.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, r *job.Record) error
}

// JobRunning fires once the record is RUNNING, before Run is called.
type JobRunning interface {
	OnJobRunning(ctx context.Context, r *job.Record) error
}

// JobSucceeded fires after the SUCCEEDED record is saved.
type JobSucceeded interface {
	OnJobSucceeded(ctx context.Context, r *job.Record, elapsed time.Duration) error
}

// JobFailed fires after the FAILED record is saved. err is the cause the
// trace was rendered from.
type JobFailed interface {
	OnJobFailed(ctx context.Context, r *job.Record, err error) error
}

// JobAborted fires after the ABORTED record is saved, whether the job
// was interrupted while running or stopped before a worker claimed it.
type JobAborted interface {
	OnJobAborted(ctx context.Context, r *job.Record) error
}

// Shutdown fires once when the hub stops.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
