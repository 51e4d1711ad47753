package jobhub

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds the settings of one worker instance.
type Config struct {
	// PoolSize is the number of jobs this instance runs concurrently.
	PoolSize int

	// MinSlotsPerTenant is the floor of the per-tenant slot allocation,
	// applied even when tenants outnumber pool slots.
	MinSlotsPerTenant int

	// ScanDelay is the first sleep after a scheduling tick that claimed
	// nothing. Consecutive idle ticks back off up to IdleDelay.
	ScanDelay time.Duration

	// IdleDelay caps the idle backoff of the scheduling loop.
	IdleDelay time.Duration

	// IdleBackoff names the idle backoff mode: "exponential" (default),
	// "jitter" or "constant".
	IdleBackoff string

	// CompletionUpdateRate is how often progress of running jobs is
	// written to the store.
	CompletionUpdateRate time.Duration

	// HeartbeatInterval is how often running jobs are stamped as alive.
	// A zero value disables heartbeats.
	HeartbeatInterval time.Duration

	// ShutdownTimeout bounds how long Stop waits for running jobs before
	// interrupting them.
	ShutdownTimeout time.Duration

	// WorkspaceRoot is the parent directory of per-job workspaces.
	WorkspaceRoot string

	// StoreFallback makes the scheduling loop ask the store for the
	// highest-priority pending job when the bus has nothing for a tenant.
	StoreFallback bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:             10,
		MinSlotsPerTenant:    2,
		ScanDelay:            100 * time.Millisecond,
		IdleDelay:            1 * time.Second,
		IdleBackoff:          "exponential",
		CompletionUpdateRate: 1 * time.Second,
		HeartbeatInterval:    60 * time.Second,
		ShutdownTimeout:      60 * time.Second,
		WorkspaceRoot:        filepath.Join(os.TempDir(), "jobhub"),
		StoreFallback:        true,
	}
}
