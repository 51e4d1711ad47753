// Package memory provides a fully in-memory job.Store. It is safe for
// concurrent access and intended for unit testing, development and
// single-process deployments.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/jobhub"
	"github.com/xraph/jobhub/id"
	"github.com/xraph/jobhub/job"
	"github.com/xraph/jobhub/store"
)

// Compile-time interface checks.
var (
	_ job.Store     = (*Store)(nil)
	_ jobhub.Storer = (*Store)(nil)
	_ store.Store   = (*Store)(nil)
)

// Store is an in-memory implementation of job.Store. Records are cloned
// on the way in and on the way out, so callers never share memory with
// the store.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job.Record
}

// New returns a new empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]*job.Record)}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate, Ping, Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new record.
func (m *Store) CreateJob(_ context.Context, r *job.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, exists := m.jobs[key]; exists {
		return jobhub.ErrJobAlreadyExists
	}
	m.jobs[key] = r.Clone()
	return nil
}

// SaveJob overwrites an existing record.
func (m *Store) SaveJob(_ context.Context, r *job.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return jobhub.ErrJobNotFound
	}
	cp := r.Clone()
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = cp
	return nil
}

// GetJob retrieves a record by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jobhub.ErrJobNotFound
	}
	return r.Clone(), nil
}

// FindHighestPriorityPending claims the tenant's best pending record by
// moving it to to_be_run.
func (m *Store) FindHighestPriorityPending(_ context.Context, tenant string) (*job.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *job.Record
	for _, r := range m.jobs {
		if r.Tenant != tenant || r.Status != job.StatusPending {
			continue
		}
		if best == nil || outranks(r, best) {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}
	if err := best.Transition(job.StatusToBeRun, time.Now().UTC()); err != nil {
		return nil, err
	}
	return best.Clone(), nil
}

// outranks orders by priority DESC, then ScheduledAt ASC.
func outranks(a, b *job.Record) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.ScheduledAt.Before(b.ScheduledAt)
}

// CountByStatus counts records of kind in one of statuses.
func (m *Store) CountByStatus(_ context.Context, kind string, statuses ...job.Status) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, r := range m.jobs {
		if kind != "" && r.Kind != kind {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, r.Status) {
			continue
		}
		count++
	}
	return count, nil
}

// CompareAndSetStatus moves a record from one of from to to, stamping
// its timestamps the way Record.Transition does.
func (m *Store) CompareAndSetStatus(_ context.Context, jobID id.JobID, from []job.Status, to job.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.jobs[jobID.String()]
	if !ok {
		return false, jobhub.ErrJobNotFound
	}
	if !slices.Contains(from, r.Status) {
		return false, nil
	}
	if err := r.Transition(to, time.Now().UTC()); err != nil {
		return false, nil //nolint:nilerr // a refused transition is a lost swap
	}
	return true, nil
}

// ListJobsByStatus returns records in the given status, oldest first.
func (m *Store) ListJobsByStatus(_ context.Context, tenant string, status job.Status, opts job.ListOpts) ([]*job.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Record, 0, len(m.jobs))
	for _, r := range m.jobs {
		if r.Status != status {
			continue
		}
		if tenant != "" && r.Tenant != tenant {
			continue
		}
		result = append(result, r.Clone())
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	// Apply offset / limit.
	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// UpdateCompletion copies progress fields onto running records.
func (m *Store) UpdateCompletion(_ context.Context, records []*job.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, in := range records {
		r, ok := m.jobs[in.ID.String()]
		if !ok || r.Status != job.StatusRunning {
			continue
		}
		r.Advance(in.PercentCompleted)
		if in.EstimatedCompletion != nil {
			t := *in.EstimatedCompletion
			r.EstimatedCompletion = &t
		}
		r.UpdatedAt = now
	}
	return nil
}

// HeartbeatJobs stamps HeartbeatAt on running records.
func (m *Store) HeartbeatJobs(_ context.Context, jobIDs []id.JobID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, jobID := range jobIDs {
		r, ok := m.jobs[jobID.String()]
		if !ok || r.Status != job.StatusRunning {
			continue
		}
		t := at.UTC()
		r.HeartbeatAt = &t
	}
	return nil
}

// Len returns the number of stored records.
func (m *Store) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}
