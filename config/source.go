package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "JOBHUB_"

// Load merges defaults, the YAML file at path (skipped when empty),
// environment variables and the changed flags of fs (may be nil), then
// validates the result.
func Load(path string, fs *pflag.FlagSet) (*File, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultsMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	if fs != nil {
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return nil, fmt.Errorf("config: load flags: %w", err)
		}
	}

	var f File
	if err := k.UnmarshalWithConf("", &f, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// envKey maps JOBHUB_WORKER__POOL_SIZE to worker.pool_size.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// BindFlags defines the --config flag and the override flags understood
// by Load.
func BindFlags(fs *pflag.FlagSet) {
	def := Defaults()
	fs.StringP("config", "c", "", "path to a YAML configuration file")
	fs.String("log.level", def.Log.Level, "log level (debug, info, warn, error)")
	fs.String("log.format", def.Log.Format, "log format (text, json)")
	fs.Int("worker.pool_size", def.Worker.PoolSize, "number of jobs run concurrently")
	fs.String("worker.idle_backoff", def.Worker.IdleBackoff, "idle backoff of the scheduling loop (exponential, jitter, constant)")
	fs.String("worker.workspace_root", def.Worker.WorkspaceRoot, "parent directory of job workspaces")
	fs.String("store.driver", def.Store.Driver, "record store (memory, postgres)")
	fs.String("store.postgres.dsn", "", "postgres connection string")
	fs.String("bus.driver", def.Bus.Driver, "message bus (memory, redis)")
	fs.String("bus.redis.addr", def.Bus.Redis.Addr, "redis address")
}
