// Command jobhub-worker runs one worker instance: it schedules and runs
// jobs for the configured tenants until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/xraph/jobhub"
	"github.com/xraph/jobhub/config"
	"github.com/xraph/jobhub/engine"
	"github.com/xraph/jobhub/event"
	"github.com/xraph/jobhub/job/samples"
	"github.com/xraph/jobhub/store"
	"github.com/xraph/jobhub/store/memory"
	"github.com/xraph/jobhub/store/postgres"
	"github.com/xraph/jobhub/stream"
	redisbus "github.com/xraph/jobhub/stream/redis"
)

var rootCmd = &cobra.Command{
	Use:           "jobhub-worker",
	Short:         "Run a multi-tenant job worker",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}
		cfg, err := config.Load(path, cmd.Flags())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
}

func init() {
	config.BindFlags(rootCmd.Flags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.File) error {
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	bus, release, err := openBus(ctx, cfg, logger)
	if err != nil {
		_ = st.Close()
		return err
	}
	defer release()

	h, err := jobhub.New(
		jobhub.WithConfig(cfg.HubConfig()),
		jobhub.WithLogger(logger),
		jobhub.WithStore(st),
		jobhub.WithBus(bus),
	)
	if err != nil {
		_ = bus.Close()
		_ = st.Close()
		return err
	}

	eng, err := engine.Build(h,
		engine.WithTenants(cfg.Resolver()),
		engine.WithTenantConfig(cfg.TenantConfigs()...),
	)
	if err != nil {
		_ = h.Stop(ctx)
		return err
	}
	if err := samples.Register(eng.Registry()); err != nil {
		_ = h.Stop(ctx)
		return err
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	logger.Info("worker started",
		slog.String("worker_id", eng.Dispatcher().WorkerID().String()),
		slog.Int("pool_size", cfg.Worker.PoolSize),
		slog.Int("tenants", len(cfg.Tenants)),
		slog.String("store", cfg.Store.Driver),
		slog.String("bus", cfg.Bus.Driver),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	// Stop bounds its own wait by the shutdown timeout, then interrupts
	// whatever is still running.
	if err := eng.Stop(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	logger.Info("worker stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.File, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		s, err := postgres.New(ctx, cfg.Store.Postgres.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if cfg.Store.Migrate {
			if err := s.Migrate(ctx); err != nil {
				_ = s.Close()
				return nil, err
			}
		}
		return s, nil
	default:
		return memory.New(), nil
	}
}

// openBus returns the bus and a release func for resources the bus does
// not own.
func openBus(ctx context.Context, cfg *config.File, logger *slog.Logger) (event.Bus, func(), error) {
	switch cfg.Bus.Driver {
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Bus.Redis.Addr,
			Password: cfg.Bus.Redis.Password,
			DB:       cfg.Bus.Redis.DB,
		})
		b := redisbus.New(client, redisbus.WithLogger(logger))
		if err := b.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		return b, func() { _ = client.Close() }, nil
	default:
		return stream.New(stream.WithLogger(logger)), func() {}, nil
	}
}
