// Package puller runs the scheduling loop of a worker instance. Each tick
// it lists the active tenants, refreshes their slot allocation and claims
// at most one job per tenant, in round-robin order, handing each claim to
// the dispatcher.
package puller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/jobhub"
	"github.com/xraph/jobhub/alloc"
	"github.com/xraph/jobhub/backoff"
	"github.com/xraph/jobhub/event"
	"github.com/xraph/jobhub/id"
	"github.com/xraph/jobhub/job"
	"github.com/xraph/jobhub/tenant"
)

// Dispatcher accepts claimed jobs. A nil error means the dispatcher took
// ownership of the tenant slot and will release it.
type Dispatcher interface {
	Execute(ctx context.Context, tenant string, jobID id.JobID) error
}

// Capacity is the pool the claims are executed on.
type Capacity interface {
	Size() int
	WaitIdle(ctx context.Context) error
}

// Puller claims jobs for the active tenants of one instance.
type Puller struct {
	resolver      tenant.Resolver
	table         *tenant.Table
	strategy      alloc.Strategy
	bus           event.Bus
	store         job.Store
	dispatcher    Dispatcher
	pool          Capacity
	backoff       backoff.Strategy
	storeFallback bool
	logger        *slog.Logger

	offset int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Puller.
type Option func(*Puller)

// WithStrategy sets the slot allocation strategy.
func WithStrategy(s alloc.Strategy) Option {
	return func(p *Puller) { p.strategy = s }
}

// WithBackoff sets the idle backoff between ticks that claimed nothing.
func WithBackoff(b backoff.Strategy) Option {
	return func(p *Puller) { p.backoff = b }
}

// WithStoreFallback makes a tick ask the store when the bus has nothing
// for a tenant.
func WithStoreFallback(store job.Store) Option {
	return func(p *Puller) {
		p.store = store
		p.storeFallback = store != nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Puller) { p.logger = l }
}

// New creates a puller.
func New(
	resolver tenant.Resolver,
	table *tenant.Table,
	bus event.Bus,
	dispatcher Dispatcher,
	pool Capacity,
	opts ...Option,
) *Puller {
	cfg := jobhub.DefaultConfig()
	p := &Puller{
		resolver:   resolver,
		table:      table,
		strategy:   alloc.Default(),
		bus:        bus,
		dispatcher: dispatcher,
		pool:       pool,
		backoff:    backoff.Idle(cfg.ScanDelay, cfg.IdleDelay),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the scheduling loop. It returns immediately.
func (p *Puller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.running = true

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(loopCtx, p.done)

	p.logger.Info("puller started", slog.Int("pool_size", p.pool.Size()))
	return nil
}

// Stop ends the scheduling loop and waits for the current tick.
func (p *Puller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.logger.Info("puller stopped")
	return nil
}

func (p *Puller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	idle := 0
	for {
		claimed, err := p.Tick(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				p.logger.Info("puller loop ended", slog.String("reason", err.Error()))
			}
			return
		}
		if claimed > 0 {
			idle = 0
			continue
		}

		idle++
		timer := time.NewTimer(p.backoff.Delay(idle))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Tick runs one scheduling pass and returns the number of jobs handed
// to the dispatcher. Failures of one tenant are logged and do not affect
// the others. The error is non-nil only when the loop must end: ctx
// ended or the pool closed.
func (p *Puller) Tick(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	tenants, err := p.resolver.ActiveTenants(ctx)
	if err != nil {
		p.logger.Error("list active tenants", slog.String("error", err.Error()))
		return 0, nil
	}
	tenants = p.skipMaintenance(ctx, tenants)

	perTenant := p.strategy.Slots(p.pool.Size(), len(tenants))
	p.table.Refresh(tenants, perTenant)
	if len(tenants) == 0 {
		return 0, nil
	}

	start := p.offset % len(tenants)
	p.offset = start + 1

	claimed := 0
	for i := range tenants {
		t := tenants[(start+i)%len(tenants)]

		ok, err := p.claim(ctx, t)
		if err != nil {
			return claimed, err
		}
		if ok {
			claimed++
		}
	}
	return claimed, nil
}

// claim tries to hand one job of tenant t to the dispatcher. A non-nil
// error ends the tick.
func (p *Puller) claim(ctx context.Context, t string) (bool, error) {
	if !p.table.HasRoom(t) || !p.table.HasToken(t) {
		return false, nil
	}
	if err := p.pool.WaitIdle(ctx); err != nil {
		return false, err
	}
	if !p.table.Acquire(t) {
		return false, nil
	}

	msg := p.next(ctx, t)
	if msg == nil {
		p.table.Release(t)
		return false, nil
	}
	// The rate token is spent only on a claim that has a job to hand out.
	if !p.table.Allow(t) {
		p.table.Release(t)
		p.requeue(ctx, msg)
		return false, nil
	}

	if err := p.dispatcher.Execute(ctx, t, msg.JobID); err != nil {
		p.table.Release(t)
		if errors.Is(err, jobhub.ErrPoolClosed) {
			p.requeue(ctx, msg)
			return false, err
		}
		lvl := slog.LevelError
		switch {
		case errors.Is(err, jobhub.ErrAlreadyClaimed):
			lvl = slog.LevelDebug
		case errors.Is(err, jobhub.ErrJobNotFound):
			lvl = slog.LevelWarn
		}
		p.logger.Log(ctx, lvl, "dispatch rejected",
			slog.String("tenant", t),
			slog.String("job_id", msg.JobID.String()),
			slog.String("error", err.Error()),
		)
		return false, nil
	}
	return true, nil
}

// requeue announces a job again after it was taken off the bus but not
// dispatched, so this or another instance can claim it.
func (p *Puller) requeue(ctx context.Context, msg *event.Message) {
	if err := p.bus.Send(context.WithoutCancel(ctx), event.ChannelNewJob, msg.Tenant, msg); err != nil {
		p.logger.Warn("failed to requeue job",
			slog.String("job_id", msg.JobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// next returns the tenant's next job announcement, from the bus first
// and from the store when fallback is enabled.
func (p *Puller) next(ctx context.Context, t string) *event.Message {
	msg, err := p.bus.PollOne(ctx, event.ChannelNewJob, t, 0)
	if err != nil {
		p.logger.Warn("poll new job",
			slog.String("tenant", t),
			slog.String("error", err.Error()),
		)
	}
	if msg != nil {
		if msg.Tenant == "" {
			msg.Tenant = t
		}
		return msg
	}
	if !p.storeFallback {
		return nil
	}

	rec, err := p.store.FindHighestPriorityPending(ctx, t)
	if err != nil {
		p.logger.Warn("find pending job",
			slog.String("tenant", t),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if rec == nil {
		return nil
	}
	return &event.Message{JobID: rec.ID, Tenant: t, Priority: rec.Priority, SentAt: time.Now().UTC()}
}

func (p *Puller) skipMaintenance(ctx context.Context, tenants []string) []string {
	mc, ok := p.resolver.(tenant.MaintenanceChecker)
	if !ok {
		return tenants
	}
	active := make([]string, 0, len(tenants))
	for _, t := range tenants {
		on, err := mc.InMaintenance(ctx, t)
		if err != nil {
			p.logger.Warn("maintenance check failed",
				slog.String("tenant", t),
				slog.String("error", err.Error()),
			)
			continue
		}
		if on {
			p.logger.Warn("tenant in maintenance mode, skipping", slog.String("tenant", t))
			continue
		}
		active = append(active, t)
	}
	return active
}
