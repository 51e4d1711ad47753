package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/jobhub"
	"github.com/xraph/jobhub/abort"
	"github.com/xraph/jobhub/alloc"
	"github.com/xraph/jobhub/backoff"
	"github.com/xraph/jobhub/event"
	"github.com/xraph/jobhub/ext"
	"github.com/xraph/jobhub/id"
	"github.com/xraph/jobhub/job"
	mw "github.com/xraph/jobhub/middleware"
	"github.com/xraph/jobhub/observability"
	"github.com/xraph/jobhub/puller"
	"github.com/xraph/jobhub/tenant"
	"github.com/xraph/jobhub/worker"
	"github.com/xraph/jobhub/workspace"
)

const instrumentationName = "github.com/xraph/jobhub"

// Engine wires a Hub's store and bus to the scheduling subsystems.
// Use Build() to create one from a Hub.
type Engine struct {
	h          *jobhub.Hub
	extensions *ext.Registry
	registry   *job.Registry
	jobStore   job.Store
	bus        event.Bus
	mws        []mw.Middleware
	logger     *slog.Logger

	resolver      tenant.Resolver
	tenantConfigs []tenant.Config
	table         *tenant.Table
	strategy      alloc.Strategy
	bo            backoff.Strategy

	pool        *worker.Pool
	dispatcher  *worker.Dispatcher
	puller      *puller.Puller
	coordinator *abort.Coordinator

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware after the built-in chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithTenants sets the resolver listing the tenants this instance
// schedules.
func WithTenants(r tenant.Resolver) Option {
	return func(eng *Engine) {
		eng.resolver = r
	}
}

// WithStaticTenants schedules a fixed list of tenants.
func WithStaticTenants(tenants ...string) Option {
	return WithTenants(tenant.Static(tenants...))
}

// WithTenantConfig sets per-tenant claim rate limits.
func WithTenantConfig(configs ...tenant.Config) Option {
	return func(eng *Engine) {
		eng.tenantConfigs = append(eng.tenantConfigs, configs...)
	}
}

// WithStrategy sets the slot allocation strategy. If not set,
// alloc.Fair with the hub's MinSlotsPerTenant is used.
func WithStrategy(s alloc.Strategy) Option {
	return func(eng *Engine) {
		eng.strategy = s
	}
}

// WithBackoff sets the idle backoff of the scheduling loop. If not set,
// it grows from ScanDelay up to IdleDelay.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from a Hub. The Hub's store must implement
// job.Store and its bus event.Bus.
func Build(h *jobhub.Hub, opts ...Option) (*Engine, error) {
	logger := h.Logger()

	store := h.Store()
	if store == nil {
		return nil, jobhub.ErrNoStore
	}
	js, ok := store.(job.Store)
	if !ok {
		return nil, errors.New("jobhub: store does not implement job.Store")
	}

	transport := h.Bus()
	if transport == nil {
		return nil, jobhub.ErrNoBus
	}
	bus, ok := transport.(event.Bus)
	if !ok {
		return nil, errors.New("jobhub: bus does not implement event.Bus")
	}

	cfg := h.Config()
	eng := &Engine{
		h:          h,
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(),
		jobStore:   js,
		bus:        bus,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.resolver == nil {
		eng.resolver = tenant.Static()
	}
	if eng.strategy == nil {
		eng.strategy = alloc.Fair{Minimum: cfg.MinSlotsPerTenant}
	}
	if eng.bo == nil {
		bo, err := backoff.ForMode(cfg.IdleBackoff, cfg.ScanDelay, cfg.IdleDelay)
		if err != nil {
			return nil, fmt.Errorf("jobhub: %w", err)
		}
		eng.bo = bo
	}
	eng.table = tenant.NewTable(eng.tenantConfigs...)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter(instrumentationName + "/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging → tenant.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Tenant(),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	eng.pool = worker.NewPool(cfg.PoolSize, logger)
	eng.dispatcher = worker.NewDispatcher(js, bus, eng.registry, eng.pool,
		worker.WithLogger(logger),
		worker.WithMiddleware(allMws...),
		worker.WithExtensions(eng.extensions),
		worker.WithWorkspaces(workspace.NewManager(cfg.WorkspaceRoot)),
		worker.WithOnRelease(eng.table.Release),
		worker.WithCompletionUpdateRate(cfg.CompletionUpdateRate),
		worker.WithHeartbeatInterval(cfg.HeartbeatInterval),
		worker.WithShutdownTimeout(cfg.ShutdownTimeout),
	)

	pullerOpts := []puller.Option{
		puller.WithLogger(logger),
		puller.WithStrategy(eng.strategy),
		puller.WithBackoff(eng.bo),
	}
	if cfg.StoreFallback {
		pullerOpts = append(pullerOpts, puller.WithStoreFallback(js))
	}
	eng.puller = puller.New(eng.resolver, eng.table, bus, eng.dispatcher, eng.pool, pullerOpts...)

	eng.coordinator = abort.New(bus, js, eng.dispatcher,
		abort.WithLogger(logger),
		abort.WithExtensions(eng.extensions),
		abort.WithWorkerID(eng.dispatcher.WorkerID()),
	)

	// Wire back into the Hub.
	h.SetRunner(&subsystems{eng: eng})
	h.SetExtensions(eng.extensions)

	return eng, nil
}

// Register adds a job kind.
func (eng *Engine) Register(def job.Definition) error {
	return eng.registry.Register(def)
}

// Enqueue persists a PENDING job for tenant and announces it on the
// tenant's new-job channel.
func (eng *Engine) Enqueue(ctx context.Context, tenantID, kind string, opts ...job.Option) (*job.Record, error) {
	if tenantID == "" {
		return nil, errors.New("jobhub: enqueue: empty tenant")
	}
	if kind == "" {
		return nil, errors.New("jobhub: enqueue: empty kind")
	}

	var o job.Options
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.Err(); err != nil {
		return nil, fmt.Errorf("jobhub: enqueue %q: %w", kind, err)
	}

	needsWorkspace := o.NeedsWorkspace
	if def, ok := eng.registry.Get(kind); ok && def.NeedsWorkspace {
		needsWorkspace = true
	}

	now := time.Now().UTC()
	rec := &job.Record{
		Entity:         jobhub.NewEntity(),
		ID:             id.NewJobID(),
		Tenant:         tenantID,
		Kind:           kind,
		Parameters:     o.Parameters,
		Priority:       o.Priority,
		Status:         job.StatusPending,
		ScheduledAt:    now,
		ExpiresAt:      o.ExpiresAt,
		NeedsWorkspace: needsWorkspace,
	}
	if err := eng.jobStore.CreateJob(ctx, rec); err != nil {
		return nil, fmt.Errorf("jobhub: enqueue %q: %w", kind, err)
	}

	msg := &event.Message{JobID: rec.ID, Tenant: tenantID, Priority: rec.Priority, SentAt: now}
	if err := eng.bus.Send(ctx, event.ChannelNewJob, tenantID, msg); err != nil {
		if !eng.h.Config().StoreFallback {
			return nil, fmt.Errorf("jobhub: announce job %s: %w", rec.ID, err)
		}
		eng.logger.Warn("failed to announce job, store fallback will pick it up",
			slog.String("job_id", rec.ID.String()),
			slog.String("tenant", tenantID),
			slog.String("error", err.Error()),
		)
	}

	eng.extensions.EmitJobEnqueued(ctx, rec)
	return rec, nil
}

// RequestStop asks every instance to stop a job. It returns once the
// request is broadcast; observe the lifecycle events for the outcome.
func (eng *Engine) RequestStop(ctx context.Context, jobID id.JobID) error {
	return eng.coordinator.RequestStop(ctx, jobID)
}

// Job returns a record.
func (eng *Engine) Job(ctx context.Context, jobID id.JobID) (*job.Record, error) {
	return eng.jobStore.GetJob(ctx, jobID)
}

// Count counts records of kind in the given statuses. An empty kind
// matches every kind and no statuses match every status.
func (eng *Engine) Count(ctx context.Context, kind string, statuses ...job.Status) (int64, error) {
	return eng.jobStore.CountByStatus(ctx, kind, statuses...)
}

// List returns a tenant's records in a status, oldest first.
func (eng *Engine) List(ctx context.Context, tenantID string, status job.Status, opts job.ListOpts) ([]*job.Record, error) {
	return eng.jobStore.ListJobsByStatus(ctx, tenantID, status, opts)
}

// Subscribe delivers lifecycle events (running, succeeded, failed,
// aborted) of every job to handler until ctx ends or the subscription is
// cancelled.
func (eng *Engine) Subscribe(ctx context.Context, handler event.Handler) (event.Subscription, error) {
	return eng.bus.Subscribe(ctx, event.TopicLifecycle, handler)
}

// Start begins scheduling and executing jobs.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.h.Start(ctx)
}

// Stop gracefully shuts down the engine, then closes the bus and store.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.h.Stop(ctx)
}

// Hub returns the underlying Hub.
func (eng *Engine) Hub() *jobhub.Hub { return eng.h }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Dispatcher returns the local dispatcher.
func (eng *Engine) Dispatcher() *worker.Dispatcher { return eng.dispatcher }

// Puller returns the scheduling loop.
func (eng *Engine) Puller() *puller.Puller { return eng.puller }

// Tenants returns the per-tenant slot table.
func (eng *Engine) Tenants() *tenant.Table { return eng.table }

// subsystems starts and stops the engine's moving parts on behalf of the
// Hub.
type subsystems struct {
	eng *Engine
}

func (s *subsystems) Start(ctx context.Context) error {
	eng := s.eng
	if err := eng.coordinator.Start(ctx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}
	if err := eng.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	if err := eng.puller.Start(ctx); err != nil {
		return fmt.Errorf("start puller: %w", err)
	}
	return nil
}

// Stop ends the scheduling loop and drains the dispatcher concurrently;
// closing the pool wakes a puller waiting for capacity. Stop requests are
// served until both are done.
func (s *subsystems) Stop(ctx context.Context) error {
	eng := s.eng

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.puller.Stop(gctx) })
	g.Go(func() error { return eng.dispatcher.Stop(gctx) })
	err := g.Wait()

	if cerr := eng.coordinator.Stop(ctx); cerr != nil {
		eng.logger.Warn("coordinator stop error", slog.String("error", cerr.Error()))
	}
	return err
}
