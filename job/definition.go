package job

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/jobhub/id"
)

// Job is the unit of work executed on a pool goroutine.
type Job interface {
	// SetID tells the job which record it runs for.
	SetID(jobID id.JobID)

	// SetParameters injects the record's parameters. Implementations
	// should return errors wrapping jobhub.ErrParameterMissing or
	// jobhub.ErrParameterInvalid; see Required and Optional.
	SetParameters(params Parameters) error

	// Run executes the job and blocks until it finishes. A cancelled ctx
	// is a stop request: Run should return ctx.Err() soon after.
	Run(ctx context.Context) error
}

// WorkspaceUser is implemented by jobs that receive a private scratch
// directory. The directory is provisioned only when the kind's Definition
// sets NeedsWorkspace.
type WorkspaceUser interface {
	SetWorkspace(dir string)
}

// Progress receives progress reports from a running job.
type Progress interface {
	// Advance reports the completed percentage. Values lower than a
	// previous report are ignored.
	Advance(percent int)

	// EstimateCompletion reports when the job expects to finish.
	EstimateCompletion(t time.Time)
}

// ProgressAware is implemented by jobs that report progress.
type ProgressAware interface {
	SetProgress(p Progress)
}

// Definition binds a kind identifier to a constructor.
type Definition struct {
	// Kind is the identifier stored on job records.
	Kind string

	// New returns a fresh, unconfigured instance.
	New func() Job

	// NeedsWorkspace makes the dispatcher provision a private directory
	// for every run of this kind and remove it afterwards.
	NeedsWorkspace bool
}

// Base implements the plumbing parts of Job, WorkspaceUser and
// ProgressAware. Embed it and implement SetParameters and Run.
type Base struct {
	mu        sync.Mutex
	id        id.JobID
	workspace string
	progress  Progress
}

// SetID implements Job.
func (b *Base) SetID(jobID id.JobID) {
	b.mu.Lock()
	b.id = jobID
	b.mu.Unlock()
}

// ID returns the record id set by the dispatcher.
func (b *Base) ID() id.JobID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.id
}

// SetWorkspace implements WorkspaceUser.
func (b *Base) SetWorkspace(dir string) {
	b.mu.Lock()
	b.workspace = dir
	b.mu.Unlock()
}

// Workspace returns the provisioned directory, or "".
func (b *Base) Workspace() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.workspace
}

// SetProgress implements ProgressAware.
func (b *Base) SetProgress(p Progress) {
	b.mu.Lock()
	b.progress = p
	b.mu.Unlock()
}

// Advance forwards a progress report, if a reporter was injected.
func (b *Base) Advance(percent int) {
	b.mu.Lock()
	p := b.progress
	b.mu.Unlock()
	if p != nil {
		p.Advance(percent)
	}
}

// EstimateCompletion forwards an estimate, if a reporter was injected.
func (b *Base) EstimateCompletion(t time.Time) {
	b.mu.Lock()
	p := b.progress
	b.mu.Unlock()
	if p != nil {
		p.EstimateCompletion(t)
	}
}
