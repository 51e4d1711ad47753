// Package worker executes claimed jobs. A Dispatcher takes a claimed job
// id, moves the record through QUEUED and RUNNING to a terminal status,
// and runs the job on a bounded Pool through the middleware chain.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/jobhub"
	"github.com/xraph/jobhub/event"
	"github.com/xraph/jobhub/ext"
	"github.com/xraph/jobhub/id"
	"github.com/xraph/jobhub/job"
	"github.com/xraph/jobhub/middleware"
	"github.com/xraph/jobhub/workspace"
)

// claimable lists the statuses a dispatcher may claim from.
var claimable = []job.Status{job.StatusPending, job.StatusToBeRun}

// Dispatcher runs claimed jobs on a Pool and records their outcome.
type Dispatcher struct {
	store      job.Store
	bus        event.Bus
	registry   *job.Registry
	pool       *Pool
	running    *RunningSet
	extensions *ext.Registry
	workspaces *workspace.Manager
	mw         middleware.Middleware
	workerID   id.WorkerID
	logger     *slog.Logger
	onRelease  func(tenant string)

	completionRate    time.Duration
	heartbeatInterval time.Duration
	shutdownTimeout   time.Duration

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMiddleware sets the middleware wrapping every Run call, outermost
// first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(d *Dispatcher) { d.mw = middleware.Chain(mws...) }
}

// WithExtensions sets the extension registry notified of lifecycle
// changes.
func WithExtensions(r *ext.Registry) Option {
	return func(d *Dispatcher) { d.extensions = r }
}

// WithWorkspaces sets the workspace manager.
func WithWorkspaces(m *workspace.Manager) Option {
	return func(d *Dispatcher) { d.workspaces = m }
}

// WithWorkerID sets the id stamped on records this instance runs.
func WithWorkerID(wid id.WorkerID) Option {
	return func(d *Dispatcher) { d.workerID = wid }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithOnRelease sets the callback run exactly once when a dispatch that
// Execute accepted ends, whatever its outcome.
func WithOnRelease(fn func(tenant string)) Option {
	return func(d *Dispatcher) { d.onRelease = fn }
}

// WithCompletionUpdateRate sets how often progress is persisted. A zero
// value disables the completion updater.
func WithCompletionUpdateRate(dur time.Duration) Option {
	return func(d *Dispatcher) { d.completionRate = dur }
}

// WithHeartbeatInterval sets how often running jobs are stamped alive.
// A zero value disables heartbeats.
func WithHeartbeatInterval(dur time.Duration) Option {
	return func(d *Dispatcher) { d.heartbeatInterval = dur }
}

// WithShutdownTimeout bounds how long Stop waits before interrupting
// running jobs.
func WithShutdownTimeout(dur time.Duration) Option {
	return func(d *Dispatcher) { d.shutdownTimeout = dur }
}

// NewDispatcher creates a dispatcher running jobs on pool.
func NewDispatcher(store job.Store, bus event.Bus, registry *job.Registry, pool *Pool, opts ...Option) *Dispatcher {
	cfg := jobhub.DefaultConfig()
	d := &Dispatcher{
		store:             store,
		bus:               bus,
		registry:          registry,
		pool:              pool,
		running:           NewRunningSet(),
		mw:                middleware.Chain(),
		workerID:          id.NewWorkerID(),
		logger:            slog.Default(),
		completionRate:    cfg.CompletionUpdateRate,
		heartbeatInterval: cfg.HeartbeatInterval,
		shutdownTimeout:   cfg.ShutdownTimeout,
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.extensions == nil {
		d.extensions = ext.NewRegistry(d.logger)
	}
	if d.workspaces == nil {
		d.workspaces = workspace.NewManager(cfg.WorkspaceRoot)
	}
	d.baseCtx, d.baseCancel = context.WithCancel(context.Background())
	return d
}

// WorkerID returns the id of this instance.
func (d *Dispatcher) WorkerID() id.WorkerID { return d.workerID }

// Running returns the set of locally dispatched jobs.
func (d *Dispatcher) Running() *RunningSet { return d.running }

// Owns reports whether the job is dispatched on this instance.
func (d *Dispatcher) Owns(jobID id.JobID) bool {
	_, ok := d.running.Get(jobID)
	return ok
}

// Interrupt requests a locally dispatched job to stop. A job still
// waiting for a slot is aborted before it runs; a running job sees its
// context cancelled. It reports whether the job is owned here.
func (d *Dispatcher) Interrupt(jobID id.JobID) bool {
	h, ok := d.running.Get(jobID)
	if !ok {
		return false
	}
	d.logger.Info("interrupting job",
		slog.String("job_id", jobID.String()),
		slog.String("tenant", h.Tenant()),
	)
	h.Interrupt()
	return true
}

// Execute claims the job and hands it to the pool.
//
// A non-nil error means the job was not accepted and the release
// callback will not run; jobhub.ErrPoolClosed means the dispatcher is
// stopping. Once Execute returns nil, the release callback
// runs exactly once when the dispatch ends.
func (d *Dispatcher) Execute(ctx context.Context, tenant string, jobID id.JobID) error {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return jobhub.ErrPoolClosed
	}

	rec, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("jobhub/worker: load %s: %w", jobID, err)
	}
	if tenant == "" {
		tenant = rec.Tenant
	}

	h, ok := d.running.Reserve(d.baseCtx, rec, tenant)
	if !ok {
		return fmt.Errorf("%w: %s runs on this instance", jobhub.ErrAlreadyClaimed, jobID)
	}

	swapped, err := d.store.CompareAndSetStatus(ctx, jobID, claimable, job.StatusQueued)
	if err != nil {
		d.running.Remove(jobID)
		return fmt.Errorf("jobhub/worker: claim %s: %w", jobID, err)
	}
	if !swapped {
		d.running.Remove(jobID)
		return fmt.Errorf("%w: %s", jobhub.ErrAlreadyClaimed, jobID)
	}

	now := time.Now().UTC()
	h.update(func(r *job.Record) {
		r.Status = job.StatusQueued
		r.UpdatedAt = now
		r.WorkerID = d.workerID
	})

	if rec.Expired(now) {
		d.finish(h, job.StatusFailed, jobhub.ErrJobExpired, 0)
		return nil
	}

	j, def, err := d.registry.Instantiate(rec)
	if err != nil {
		d.finish(h, job.StatusFailed, err, 0)
		return nil
	}

	if def.NeedsWorkspace || rec.NeedsWorkspace {
		dir, wsErr := d.workspaces.Create(tenant, jobID)
		if wsErr != nil {
			d.finish(h, job.StatusFailed, wsErr, 0)
			return nil
		}
		h.mu.Lock()
		h.workspace = dir
		h.rec.Workspace = dir
		h.mu.Unlock()
		if wu, ok := j.(job.WorkspaceUser); ok {
			wu.SetWorkspace(dir)
		}
	}
	if pa, ok := j.(job.ProgressAware); ok {
		pa.SetProgress(h)
	}

	if err := d.pool.Submit(h.Context(), func() { d.run(h, j) }); err != nil {
		if errors.Is(err, jobhub.ErrPoolClosed) && !h.Interrupted() {
			d.handBack(h, jobID)
			return fmt.Errorf("jobhub/worker: submit %s: %w", jobID, err)
		}
		d.logger.Warn("job not submitted",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		d.finish(h, job.StatusAborted, nil, 0)
	}
	return nil
}

// handBack returns a queued job that never reached the pool to pending
// so another instance can claim it. Nothing is announced and the
// release callback does not run.
func (d *Dispatcher) handBack(h *Handle, jobID id.JobID) {
	ctx := context.WithoutCancel(h.Context())

	h.mu.Lock()
	dir := h.workspace
	h.workspace = ""
	h.rec.Workspace = ""
	h.mu.Unlock()
	if dir != "" {
		if err := d.workspaces.Remove(dir); err != nil {
			d.logger.Warn("failed to remove workspace",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	swapped, err := d.store.CompareAndSetStatus(ctx, jobID, []job.Status{job.StatusQueued}, job.StatusPending)
	switch {
	case err != nil:
		d.logger.Error("failed to hand back job",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	case !swapped:
		d.logger.Warn("job left queued state before hand back", slog.String("job_id", jobID.String()))
	default:
		d.logger.Info("job handed back",
			slog.String("job_id", jobID.String()),
			slog.String("tenant", h.Tenant()),
		)
	}
	d.running.Remove(jobID)
}

// run executes on a pool goroutine.
func (d *Dispatcher) run(h *Handle, j job.Job) {
	if h.Interrupted() || h.Context().Err() != nil {
		d.finish(h, job.StatusAborted, nil, 0)
		return
	}

	now := time.Now().UTC()
	var transErr error
	rec := h.update(func(r *job.Record) {
		transErr = r.Transition(job.StatusRunning, now)
		r.WorkerID = d.workerID
	})
	if transErr != nil {
		d.finish(h, job.StatusFailed, transErr, 0)
		return
	}

	persistCtx := context.WithoutCancel(h.Context())
	if err := d.store.SaveJob(persistCtx, rec); err != nil {
		d.finish(h, job.StatusFailed, fmt.Errorf("jobhub/worker: persist running: %w", err), 0)
		return
	}
	d.broadcast(persistCtx, event.JobRunning, rec, nil)
	d.extensions.EmitJobRunning(persistCtx, rec)

	start := time.Now()
	err := d.mw(h.Context(), rec, j.Run)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		d.finish(h, job.StatusSucceeded, nil, elapsed)
	case h.Context().Err() != nil:
		d.finish(h, job.StatusAborted, nil, elapsed)
	default:
		d.finish(h, job.StatusFailed, err, elapsed)
	}
}

// finish moves the record to a terminal status, persists and announces
// it, then releases every local resource of the dispatch.
func (d *Dispatcher) finish(h *Handle, status job.Status, cause error, elapsed time.Duration) {
	ctx := context.WithoutCancel(h.Context())
	now := time.Now().UTC()

	var transErr error
	rec := h.update(func(r *job.Record) {
		transErr = r.Transition(status, now)
		if status == job.StatusFailed {
			r.Trace = job.Trace(cause)
		}
	})

	if transErr != nil {
		d.logger.Error("invalid terminal transition",
			slog.String("job_id", rec.ID.String()),
			slog.String("error", transErr.Error()),
		)
	} else if err := d.store.SaveJob(ctx, rec); err != nil {
		d.logger.Error("failed to persist job outcome",
			slog.String("job_id", rec.ID.String()),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	} else {
		switch status {
		case job.StatusSucceeded:
			d.broadcast(ctx, event.JobSucceeded, rec, nil)
			d.extensions.EmitJobSucceeded(ctx, rec, elapsed)
		case job.StatusFailed:
			d.broadcast(ctx, event.JobFailed, rec, cause)
			d.extensions.EmitJobFailed(ctx, rec, cause)
		case job.StatusAborted:
			d.broadcast(ctx, event.JobAborted, rec, nil)
			d.extensions.EmitJobAborted(ctx, rec)
		}
	}

	h.mu.Lock()
	dir := h.workspace
	h.workspace = ""
	h.mu.Unlock()
	if err := d.workspaces.Remove(dir); err != nil {
		d.logger.Warn("failed to remove workspace",
			slog.String("job_id", rec.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	d.running.Remove(rec.ID)
	if d.onRelease != nil {
		d.onRelease(h.Tenant())
	}
}

func (d *Dispatcher) broadcast(ctx context.Context, typ event.Type, rec *job.Record, cause error) {
	evt := event.New(typ, rec.ID)
	evt.Tenant = rec.Tenant
	evt.Kind = rec.Kind
	evt.WorkerID = d.workerID
	if cause != nil {
		evt.Error = cause.Error()
	}
	if err := d.bus.Broadcast(ctx, event.TopicLifecycle, evt); err != nil {
		d.logger.Warn("failed to broadcast lifecycle event",
			slog.String("job_id", rec.ID.String()),
			slog.String("event", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}

// Start launches the completion updater and the heartbeat loop.
func (d *Dispatcher) Start(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return nil
	}
	d.started = true

	if d.completionRate > 0 {
		d.wg.Add(1)
		go d.loop(d.completionRate, d.flushCompletion)
	}
	if d.heartbeatInterval > 0 {
		d.wg.Add(1)
		go d.loop(d.heartbeatInterval, d.sendHeartbeats)
	}

	d.logger.Info("dispatcher started",
		slog.String("worker_id", d.workerID.String()),
		slog.Int("pool_size", d.pool.Size()),
	)
	return nil
}

// Stop closes the pool and waits for running jobs up to the shutdown
// timeout or the ctx deadline, whichever comes first. Jobs still
// running after that are interrupted and end ABORTED.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()

	d.pool.Close()

	waitCtx := ctx
	if d.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, d.shutdownTimeout)
		defer cancel()
	}

	if err := d.pool.Wait(waitCtx); err != nil {
		d.logger.Warn("dispatcher shutdown timed out, interrupting running jobs",
			slog.Int("running", d.running.Len()),
		)
		d.baseCancel()
		for _, h := range d.running.Handles() {
			h.Interrupt()
		}
		_ = d.pool.Wait(context.Background())
	}

	close(d.stopCh)
	d.wg.Wait()
	d.baseCancel()

	d.logger.Info("dispatcher stopped", slog.String("worker_id", d.workerID.String()))
	return nil
}

func (d *Dispatcher) loop(every time.Duration, fn func(ctx context.Context)) {
	defer d.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			fn(d.baseCtx)
		}
	}
}

// flushCompletion persists progress changes of running jobs in one batch.
func (d *Dispatcher) flushCompletion(ctx context.Context) {
	var batch []*job.Record
	for _, h := range d.running.Handles() {
		if rec, ok := h.takeProgress(); ok {
			batch = append(batch, rec)
		}
	}
	if len(batch) == 0 {
		return
	}
	if err := d.store.UpdateCompletion(ctx, batch); err != nil {
		d.logger.Warn("completion update failed",
			slog.Int("jobs", len(batch)),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Dispatcher) sendHeartbeats(ctx context.Context) {
	var ids []id.JobID
	for _, h := range d.running.Handles() {
		if h.isRunning() {
			ids = append(ids, h.Record().ID)
		}
	}
	if len(ids) == 0 {
		return
	}
	if err := d.store.HeartbeatJobs(ctx, ids, time.Now().UTC()); err != nil {
		d.logger.Warn("heartbeat failed",
			slog.Int("jobs", len(ids)),
			slog.String("error", err.Error()),
		)
	}
}
