package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/jobhub/id"
	"github.com/xraph/jobhub/job"
)

var _ job.Progress = (*Handle)(nil)

// Handle is the local state of a job dispatched on this instance. It
// owns the working copy of the record and the job's context.
type Handle struct {
	tenant string
	ctx    context.Context
	cancel context.CancelFunc

	interrupted atomic.Bool

	mu        sync.Mutex
	rec       *job.Record
	workspace string
	dirty     bool
}

// Tenant returns the tenant the job was claimed for.
func (h *Handle) Tenant() string { return h.tenant }

// Context returns the job context. It is cancelled by Interrupt.
func (h *Handle) Context() context.Context { return h.ctx }

// Record returns a copy of the working record.
func (h *Handle) Record() *job.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec.Clone()
}

// Interrupted reports whether an abort was requested.
func (h *Handle) Interrupted() bool { return h.interrupted.Load() }

// Interrupt flags the job as aborted and cancels its context.
func (h *Handle) Interrupt() {
	h.interrupted.Store(true)
	h.cancel()
}

// Advance implements job.Progress.
func (h *Handle) Advance(percent int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rec.Status != job.StatusRunning {
		return
	}
	if h.rec.Advance(percent) {
		h.dirty = true
	}
}

// EstimateCompletion implements job.Progress.
func (h *Handle) EstimateCompletion(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rec.Status != job.StatusRunning {
		return
	}
	t = t.UTC()
	h.rec.EstimatedCompletion = &t
	h.dirty = true
}

// update applies fn to the working record under the handle lock.
func (h *Handle) update(fn func(r *job.Record)) *job.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.rec)
	return h.rec.Clone()
}

// takeProgress returns a copy of the record if progress changed since
// the last call.
func (h *Handle) takeProgress() (*job.Record, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty || h.rec.Status != job.StatusRunning {
		return nil, false
	}
	h.dirty = false
	return h.rec.Clone(), true
}

func (h *Handle) isRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec.Status == job.StatusRunning
}

// RunningSet holds the handles of every job dispatched on this instance.
// A job id is never present twice.
type RunningSet struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRunningSet creates an empty set.
func NewRunningSet() *RunningSet {
	return &RunningSet{handles: make(map[string]*Handle)}
}

// Reserve adds a handle for rec, deriving the job context from parent.
// It returns false if the id is already present.
func (s *RunningSet) Reserve(parent context.Context, rec *job.Record, tenant string) (*Handle, bool) {
	key := rec.ID.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[key]; ok {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{tenant: tenant, ctx: ctx, cancel: cancel, rec: rec.Clone()}
	s.handles[key] = h
	return h, true
}

// Get returns the handle of a job.
func (s *RunningSet) Get(jobID id.JobID) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[jobID.String()]
	return h, ok
}

// Remove drops a job's handle and cancels its context.
func (s *RunningSet) Remove(jobID id.JobID) {
	s.mu.Lock()
	h, ok := s.handles[jobID.String()]
	delete(s.handles, jobID.String())
	s.mu.Unlock()
	if ok {
		h.cancel()
	}
}

// Len returns the number of handles.
func (s *RunningSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Handles returns a snapshot of every handle.
func (s *RunningSet) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	return out
}
