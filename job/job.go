package job

import (
	"fmt"
	"time"

	"github.com/xraph/jobhub"
	"github.com/xraph/jobhub/id"
)

// Status represents the lifecycle status of a job record.
type Status string

const (
	// StatusPending means the job waits to be claimed.
	StatusPending Status = "pending"
	// StatusToBeRun means the job was picked from the store and is about
	// to be handed to a dispatcher.
	StatusToBeRun Status = "to_be_run"
	// StatusQueued means a dispatcher accepted the job; it may still be
	// waiting for a pool slot.
	StatusQueued Status = "queued"
	// StatusRunning means the job executes on a pool goroutine.
	StatusRunning Status = "running"
	// StatusSucceeded means Run returned without error.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the job could not be built or Run returned an error.
	StatusFailed Status = "failed"
	// StatusAborted means the job was stopped before or during execution.
	StatusAborted Status = "aborted"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusToBeRun, StatusQueued, StatusAborted},
	StatusToBeRun: {StatusQueued, StatusAborted},
	// Queued back to pending hands a job to another instance when the
	// accepting dispatcher stopped before a slot opened.
	StatusQueued:  {StatusRunning, StatusFailed, StatusAborted, StatusPending},
	StatusRunning: {StatusSucceeded, StatusFailed, StatusAborted},
}

// CanTransition reports whether a record may move from one status to
// another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusAborted:
		return true
	default:
		return false
	}
}

// IsClaimable reports whether a dispatcher may still accept the job.
func (s Status) IsClaimable() bool {
	return s == StatusPending || s == StatusToBeRun
}

// Record is the durable state of one job.
type Record struct {
	jobhub.Entity

	ID                  id.JobID    `json:"id"`
	Tenant              string      `json:"tenant"`
	Kind                string      `json:"kind"`
	Parameters          Parameters  `json:"parameters,omitempty"`
	Priority            int         `json:"priority"`
	Status              Status      `json:"status"`
	PercentCompleted    int         `json:"percent_completed"`
	ScheduledAt         time.Time   `json:"scheduled_at"`
	StartedAt           *time.Time  `json:"started_at,omitempty"`
	StoppedAt           *time.Time  `json:"stopped_at,omitempty"`
	EstimatedCompletion *time.Time  `json:"estimated_completion,omitempty"`
	ExpiresAt           *time.Time  `json:"expires_at,omitempty"`
	Trace               string      `json:"trace,omitempty"`
	NeedsWorkspace      bool        `json:"needs_workspace"`
	Workspace           string      `json:"workspace,omitempty"`
	WorkerID            id.WorkerID `json:"worker_id,omitempty"`
	HeartbeatAt         *time.Time  `json:"heartbeat_at,omitempty"`
}

// Transition moves the record to status to, stamping the start and stop
// times. It returns jobhub.ErrInvalidState for a move the status machine
// does not allow. Reaching a terminal status clears the workspace path.
func (r *Record) Transition(to Status, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", jobhub.ErrInvalidState, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = now

	switch {
	case to == StatusRunning:
		started, beat := now, now
		r.StartedAt = &started
		r.HeartbeatAt = &beat
	case to.IsTerminal():
		r.StoppedAt = &now
		r.Workspace = ""
		if to == StatusSucceeded {
			r.PercentCompleted = 100
		}
	}
	return nil
}

// Advance raises PercentCompleted to percent. Lower values are ignored so
// progress never goes backwards; values are clamped to 0..100. It reports
// whether the record changed.
func (r *Record) Advance(percent int) bool {
	if percent > 100 {
		percent = 100
	}
	if percent <= r.PercentCompleted {
		return false
	}
	r.PercentCompleted = percent
	return true
}

// Expired reports whether the record's expiration date is before now.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Parameters = r.Parameters.Clone()
	cp.StartedAt = cloneTime(r.StartedAt)
	cp.StoppedAt = cloneTime(r.StoppedAt)
	cp.EstimatedCompletion = cloneTime(r.EstimatedCompletion)
	cp.ExpiresAt = cloneTime(r.ExpiresAt)
	cp.HeartbeatAt = cloneTime(r.HeartbeatAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
