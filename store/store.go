package store

import (
	"context"

	"github.com/xraph/jobhub/job"
)

// Store is what a process host opens at startup: the record contract the
// engine runs on, plus schema setup, a health probe and shutdown.
type Store interface {
	job.Store

	// Migrate brings the schema up to date. It is safe to call from
	// several instances at once and on every start.
	Migrate(ctx context.Context) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases connections. The hub calls it after the engine has
	// stopped writing.
	Close() error
}
