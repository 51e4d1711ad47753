package job

import (
	"context"
	"time"

	"github.com/xraph/jobhub/id"
)

// ListOpts controls pagination for list queries.
type ListOpts struct {
	// Limit is the maximum number of records to return. Zero means no limit.
	Limit int
	// Offset is the number of records to skip.
	Offset int
}

// Store defines the persistence contract for job records.
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateJob persists a new record. It returns
	// jobhub.ErrJobAlreadyExists for a duplicate id.
	CreateJob(ctx context.Context, r *Record) error

	// SaveJob overwrites an existing record. It returns
	// jobhub.ErrJobNotFound when the id is unknown.
	SaveJob(ctx context.Context, r *Record) error

	// GetJob returns the record with the given id, or
	// jobhub.ErrJobNotFound.
	GetJob(ctx context.Context, jobID id.JobID) (*Record, error)

	// FindHighestPriorityPending atomically picks the tenant's pending
	// record with the highest priority (oldest ScheduledAt first among
	// equals), marks it to_be_run and returns it. It returns nil, nil
	// when the tenant has nothing pending.
	FindHighestPriorityPending(ctx context.Context, tenant string) (*Record, error)

	// CountByStatus counts records of the given kind whose status is one
	// of statuses. An empty kind matches every kind and no statuses
	// matches every status.
	CountByStatus(ctx context.Context, kind string, statuses ...Status) (int64, error)

	// CompareAndSetStatus moves a record to status to only if its current
	// status is one of from. It reports whether the swap happened.
	CompareAndSetStatus(ctx context.Context, jobID id.JobID, from []Status, to Status) (bool, error)

	// ListJobsByStatus returns a tenant's records in the given status,
	// oldest first. An empty tenant matches every tenant.
	ListJobsByStatus(ctx context.Context, tenant string, status Status, opts ListOpts) ([]*Record, error)

	// UpdateCompletion writes PercentCompleted and EstimatedCompletion of
	// the given records. Records that are no longer running are skipped.
	UpdateCompletion(ctx context.Context, records []*Record) error

	// HeartbeatJobs stamps HeartbeatAt of the given running records.
	HeartbeatJobs(ctx context.Context, jobIDs []id.JobID, at time.Time) error
}
