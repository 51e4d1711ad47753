// Package abort propagates stop requests across worker instances.
//
// A stop request is broadcast on event.TopicControl. Every instance's
// Coordinator receives it: the instance that owns the job interrupts it,
// and a job no instance has claimed yet is moved to ABORTED by a status
// compare-and-set, so exactly one instance announces it.
package abort

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xraph/jobhub"
	"github.com/xraph/jobhub/event"
	"github.com/xraph/jobhub/ext"
	"github.com/xraph/jobhub/id"
	"github.com/xraph/jobhub/job"
)

// Owner is the local dispatcher.
type Owner interface {
	Owns(jobID id.JobID) bool
	Interrupt(jobID id.JobID) bool
}

var unclaimed = []job.Status{job.StatusPending, job.StatusToBeRun}

// Coordinator handles stop requests for one instance.
type Coordinator struct {
	bus        event.Bus
	store      job.Store
	owner      Owner
	extensions *ext.Registry
	workerID   id.WorkerID
	logger     *slog.Logger

	mu  sync.Mutex
	sub event.Subscription
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithExtensions sets the registry notified when this instance aborts an
// unclaimed job.
func WithExtensions(r *ext.Registry) Option {
	return func(c *Coordinator) { c.extensions = r }
}

// WithWorkerID sets the id reported on JobAborted events.
func WithWorkerID(wid id.WorkerID) Option {
	return func(c *Coordinator) { c.workerID = wid }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a coordinator.
func New(bus event.Bus, store job.Store, owner Owner, opts ...Option) *Coordinator {
	c := &Coordinator{
		bus:    bus,
		store:  store,
		owner:  owner,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.extensions == nil {
		c.extensions = ext.NewRegistry(c.logger)
	}
	return c
}

// RequestStop broadcasts a stop request for a job. It does not wait for
// the job to stop; observe the lifecycle topic for the outcome.
func (c *Coordinator) RequestStop(ctx context.Context, jobID id.JobID) error {
	evt := event.New(event.StopJob, jobID)
	evt.WorkerID = c.workerID
	if err := c.bus.Broadcast(ctx, event.TopicControl, evt); err != nil {
		return fmt.Errorf("jobhub/abort: request stop %s: %w", jobID, err)
	}
	return nil
}

// Start subscribes to stop requests.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return nil
	}

	sub, err := c.bus.Subscribe(context.WithoutCancel(ctx), event.TopicControl, c.handle)
	if err != nil {
		return fmt.Errorf("jobhub/abort: subscribe: %w", err)
	}
	c.sub = sub
	return nil
}

// Stop ends the subscription.
func (c *Coordinator) Stop(_ context.Context) error {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

func (c *Coordinator) handle(ctx context.Context, evt *event.Event) error {
	if evt.Type != event.StopJob {
		return nil
	}
	return c.Abort(ctx, evt.JobID)
}

// Abort applies a stop request locally. A job owned by this instance is
// interrupted. An unclaimed job is aborted if this instance wins the
// status swap. Jobs running elsewhere and terminal jobs are left alone.
func (c *Coordinator) Abort(ctx context.Context, jobID id.JobID) error {
	if c.owner != nil && c.owner.Interrupt(jobID) {
		return nil
	}

	// The swap stamps StoppedAt.
	swapped, err := c.store.CompareAndSetStatus(ctx, jobID, unclaimed, job.StatusAborted)
	if err != nil {
		if errors.Is(err, jobhub.ErrJobNotFound) {
			c.logger.Debug("stop request for unknown job", slog.String("job_id", jobID.String()))
			return nil
		}
		return fmt.Errorf("jobhub/abort: abort %s: %w", jobID, err)
	}
	if !swapped {
		return nil
	}

	rec, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("jobhub/abort: load %s: %w", jobID, err)
	}
	c.logger.Info("aborted unclaimed job",
		slog.String("job_id", jobID.String()),
		slog.String("tenant", rec.Tenant),
	)

	out := event.New(event.JobAborted, jobID)
	out.Tenant = rec.Tenant
	out.Kind = rec.Kind
	out.WorkerID = c.workerID
	if err := c.bus.Broadcast(ctx, event.TopicLifecycle, out); err != nil {
		c.logger.Warn("failed to broadcast abort",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
	c.extensions.EmitJobAborted(ctx, rec)
	return nil
}
