// Package config loads the settings of a worker process.
//
// Sources are applied in order, later ones overriding earlier ones:
// built-in defaults, a YAML file, JOBHUB_* environment variables and
// command-line flags. Environment variables use a double underscore for
// nesting: JOBHUB_WORKER__POOL_SIZE sets worker.pool_size.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/jobhub"
	"github.com/xraph/jobhub/tenant"
)

var validate = validator.New()

// File is the full configuration of a worker process.
type File struct {
	Log     LogConfig      `koanf:"log"`
	Worker  WorkerConfig   `koanf:"worker"`
	Store   StoreConfig    `koanf:"store"`
	Bus     BusConfig      `koanf:"bus"`
	Tenants []TenantConfig `koanf:"tenants" validate:"dive"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// WorkerConfig mirrors jobhub.Config.
type WorkerConfig struct {
	PoolSize             int           `koanf:"pool_size" validate:"min=1"`
	MinSlots             int           `koanf:"min_slots" validate:"min=1"`
	ScanDelay            time.Duration `koanf:"scan_delay" validate:"gt=0"`
	IdleDelay            time.Duration `koanf:"idle_delay" validate:"gt=0"`
	IdleBackoff          string        `koanf:"idle_backoff" validate:"oneof=exponential jitter constant"`
	CompletionUpdateRate time.Duration `koanf:"completion_update_rate" validate:"gte=0"`
	HeartbeatInterval    time.Duration `koanf:"heartbeat_interval" validate:"gte=0"`
	ShutdownTimeout      time.Duration `koanf:"shutdown_timeout" validate:"gte=0"`
	WorkspaceRoot        string        `koanf:"workspace_root" validate:"required"`
	StoreFallback        bool          `koanf:"store_fallback"`
}

// StoreConfig selects the record backend.
type StoreConfig struct {
	Driver   string         `koanf:"driver" validate:"oneof=memory postgres"`
	Migrate  bool           `koanf:"migrate"`
	Postgres PostgresConfig `koanf:"postgres"`
}

// PostgresConfig holds the postgres connection settings.
type PostgresConfig struct {
	DSN string `koanf:"dsn"`
}

// BusConfig selects the message bus.
type BusConfig struct {
	Driver string      `koanf:"driver" validate:"oneof=memory redis"`
	Redis  RedisConfig `koanf:"redis"`
}

// RedisConfig holds the redis connection settings.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"gte=0"`
}

// TenantConfig declares a tenant scheduled by this process.
type TenantConfig struct {
	ID          string  `koanf:"id" validate:"required"`
	RateLimit   float64 `koanf:"rate_limit" validate:"gte=0"`
	RateBurst   int     `koanf:"rate_burst" validate:"gte=0"`
	Maintenance bool    `koanf:"maintenance"`
}

// Defaults returns the built-in configuration.
func Defaults() File {
	cfg := jobhub.DefaultConfig()
	return File{
		Log: LogConfig{Level: "info", Format: "text"},
		Worker: WorkerConfig{
			PoolSize:             cfg.PoolSize,
			MinSlots:             cfg.MinSlotsPerTenant,
			ScanDelay:            cfg.ScanDelay,
			IdleDelay:            cfg.IdleDelay,
			IdleBackoff:          cfg.IdleBackoff,
			CompletionUpdateRate: cfg.CompletionUpdateRate,
			HeartbeatInterval:    cfg.HeartbeatInterval,
			ShutdownTimeout:      cfg.ShutdownTimeout,
			WorkspaceRoot:        cfg.WorkspaceRoot,
			StoreFallback:        cfg.StoreFallback,
		},
		Store: StoreConfig{Driver: "memory", Migrate: true},
		Bus:   BusConfig{Driver: "memory", Redis: RedisConfig{Addr: "localhost:6379"}},
	}
}

// defaultsMap flattens Defaults for the confmap provider.
func defaultsMap() map[string]any {
	def := Defaults()
	return map[string]any{
		"log.level":  def.Log.Level,
		"log.format": def.Log.Format,

		"worker.pool_size":              def.Worker.PoolSize,
		"worker.min_slots":              def.Worker.MinSlots,
		"worker.scan_delay":             def.Worker.ScanDelay.String(),
		"worker.idle_delay":             def.Worker.IdleDelay.String(),
		"worker.idle_backoff":           def.Worker.IdleBackoff,
		"worker.completion_update_rate": def.Worker.CompletionUpdateRate.String(),
		"worker.heartbeat_interval":     def.Worker.HeartbeatInterval.String(),
		"worker.shutdown_timeout":       def.Worker.ShutdownTimeout.String(),
		"worker.workspace_root":         def.Worker.WorkspaceRoot,
		"worker.store_fallback":         def.Worker.StoreFallback,

		"store.driver":       def.Store.Driver,
		"store.migrate":      def.Store.Migrate,
		"store.postgres.dsn": def.Store.Postgres.DSN,

		"bus.driver":         def.Bus.Driver,
		"bus.redis.addr":     def.Bus.Redis.Addr,
		"bus.redis.password": def.Bus.Redis.Password,
		"bus.redis.db":       def.Bus.Redis.DB,
	}
}

// Validate checks field constraints and driver-specific requirements.
func (f *File) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var errs []error
	if f.Store.Driver == "postgres" && f.Store.Postgres.DSN == "" {
		errs = append(errs, errors.New("config: store.postgres.dsn is required for the postgres driver"))
	}
	if f.Bus.Driver == "redis" && f.Bus.Redis.Addr == "" {
		errs = append(errs, errors.New("config: bus.redis.addr is required for the redis driver"))
	}
	seen := make(map[string]bool, len(f.Tenants))
	for _, t := range f.Tenants {
		if seen[t.ID] {
			errs = append(errs, fmt.Errorf("config: duplicate tenant %q", t.ID))
		}
		seen[t.ID] = true
	}
	return errors.Join(errs...)
}

// HubConfig maps the worker section to jobhub.Config.
func (f *File) HubConfig() jobhub.Config {
	w := f.Worker
	return jobhub.Config{
		PoolSize:             w.PoolSize,
		MinSlotsPerTenant:    w.MinSlots,
		ScanDelay:            w.ScanDelay,
		IdleDelay:            w.IdleDelay,
		IdleBackoff:          w.IdleBackoff,
		CompletionUpdateRate: w.CompletionUpdateRate,
		HeartbeatInterval:    w.HeartbeatInterval,
		ShutdownTimeout:      w.ShutdownTimeout,
		WorkspaceRoot:        w.WorkspaceRoot,
		StoreFallback:        w.StoreFallback,
	}
}

// Resolver returns a static resolver serving the configured tenants,
// with maintenance flags applied.
func (f *File) Resolver() *tenant.StaticResolver {
	ids := make([]string, 0, len(f.Tenants))
	for _, t := range f.Tenants {
		ids = append(ids, t.ID)
	}
	r := tenant.Static(ids...)
	for _, t := range f.Tenants {
		if t.Maintenance {
			r.SetMaintenance(t.ID, true)
		}
	}
	return r
}

// TenantConfigs returns the rate limits of tenants that declare one.
func (f *File) TenantConfigs() []tenant.Config {
	var out []tenant.Config
	for _, t := range f.Tenants {
		if t.RateLimit > 0 {
			out = append(out, tenant.Config{Tenant: t.ID, RateLimit: t.RateLimit, RateBurst: t.RateBurst})
		}
	}
	return out
}

// NewLogger builds the slog logger described by the log section.
func (f *File) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(f.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if f.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
