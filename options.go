package jobhub

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Option configures a Hub.
type Option func(*Hub) error

// Storer is the minimal store interface held by the Hub. The full record
// contract (job.Store) lives in the job package; the engine asserts it
// when wiring.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Transport is the minimal bus interface held by the Hub. The engine
// asserts the full event.Bus contract when wiring.
type Transport interface {
	Close() error
}

// runner is implemented by the engine's subsystem set.
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is implemented by the extension registry.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Hub holds the configuration and backends of one worker instance.
//
// Create one with New and functional options, then wire the scheduling
// subsystems with engine.Build.
type Hub struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	bus        Transport
	runner     runner
	extensions extensionEmitter

	started bool
}

// New creates a Hub with the given options.
func New(opts ...Option) (*Hub, error) {
	h := &Hub{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Logger returns the hub's logger.
func (h *Hub) Logger() *slog.Logger { return h.logger }

// Store returns the hub's store.
func (h *Hub) Store() Storer { return h.store }

// Bus returns the hub's bus.
func (h *Hub) Bus() Transport { return h.bus }

// Config returns a copy of the hub's configuration.
func (h *Hub) Config() Config { return h.config }

// SetRunner sets the subsystem runner (called by the engine package).
func (h *Hub) SetRunner(r runner) { h.runner = r }

// SetExtensions sets the extension emitter (called by the engine package).
func (h *Hub) SetExtensions(e extensionEmitter) { h.extensions = e }

// Start begins scheduling and executing jobs.
func (h *Hub) Start(ctx context.Context) error {
	if h.runner == nil {
		return ErrNoStore
	}
	if err := h.runner.Start(ctx); err != nil {
		return err
	}
	h.started = true
	return nil
}

// Stop shuts the instance down, then closes the bus and the store.
func (h *Hub) Stop(ctx context.Context) error {
	if h.runner != nil && h.started {
		if err := h.runner.Stop(ctx); err != nil {
			h.logger.Error("runner stop error", slog.String("error", err.Error()))
		}
		h.started = false
	}
	if h.extensions != nil {
		h.extensions.EmitShutdown(ctx)
	}
	if h.bus != nil {
		if err := h.bus.Close(); err != nil {
			h.logger.Warn("bus close error", slog.String("error", err.Error()))
		}
	}
	if h.store != nil {
		return h.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(h *Hub) error {
		h.config = cfg
		return nil
	}
}

// WithPoolSize sets the number of concurrently running jobs.
func WithPoolSize(n int) Option {
	return func(h *Hub) error {
		if n < 1 {
			return fmt.Errorf("jobhub: pool size must be positive, got %d", n)
		}
		h.config.PoolSize = n
		return nil
	}
}

// WithMinSlotsPerTenant sets the floor of the per-tenant allocation.
func WithMinSlotsPerTenant(n int) Option {
	return func(h *Hub) error {
		h.config.MinSlotsPerTenant = n
		return nil
	}
}

// WithScanDelay sets the first idle sleep of the scheduling loop.
func WithScanDelay(d time.Duration) Option {
	return func(h *Hub) error {
		h.config.ScanDelay = d
		return nil
	}
}

// WithIdleDelay caps the idle backoff of the scheduling loop.
func WithIdleDelay(d time.Duration) Option {
	return func(h *Hub) error {
		h.config.IdleDelay = d
		return nil
	}
}

// WithIdleBackoff selects the idle backoff mode of the scheduling loop.
func WithIdleBackoff(mode string) Option {
	return func(h *Hub) error {
		h.config.IdleBackoff = mode
		return nil
	}
}

// WithCompletionUpdateRate sets how often job progress is persisted.
func WithCompletionUpdateRate(d time.Duration) Option {
	return func(h *Hub) error {
		h.config.CompletionUpdateRate = d
		return nil
	}
}

// WithHeartbeatInterval sets how often running jobs are stamped alive.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *Hub) error {
		h.config.HeartbeatInterval = d
		return nil
	}
}

// WithShutdownTimeout bounds the graceful part of Stop.
func WithShutdownTimeout(d time.Duration) Option {
	return func(h *Hub) error {
		h.config.ShutdownTimeout = d
		return nil
	}
}

// WithWorkspaceRoot sets the parent directory of job workspaces.
func WithWorkspaceRoot(dir string) Option {
	return func(h *Hub) error {
		h.config.WorkspaceRoot = dir
		return nil
	}
}

// WithStoreFallback toggles claiming from the store when the bus is empty.
func WithStoreFallback(enabled bool) Option {
	return func(h *Hub) error {
		h.config.StoreFallback = enabled
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) error {
		h.logger = l
		return nil
	}
}

// WithStore sets the job record backend. It must also implement
// job.Store.
func WithStore(s Storer) Option {
	return func(h *Hub) error {
		h.store = s
		return nil
	}
}

// WithBus sets the message bus. It must also implement event.Bus.
func WithBus(b Transport) Option {
	return func(h *Hub) error {
		h.bus = b
		return nil
	}
}
