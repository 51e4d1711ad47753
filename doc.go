// Package jobhub is a multi-tenant background job engine for Go.
//
// Jobs belong to tenants. Each worker instance runs a bounded pool and a
// single scheduling loop that visits every active tenant once per tick and
// claims at most one job for it, so a busy tenant cannot starve a quiet
// one. Job records live in a pluggable store, job notifications and
// lifecycle events travel over a pluggable bus, and a stop request for a
// job is broadcast to every instance so that whichever one owns the job
// can interrupt it.
//
// # Quick Start
//
//	h, err := jobhub.New(
//	    jobhub.WithStore(memory.New()),
//	    jobhub.WithBus(stream.New()),
//	    jobhub.WithPoolSize(20),
//	)
//	eng, err := engine.Build(h, engine.WithTenants(tenant.Static("acme", "globex")))
//
// All IDs are TypeIDs: type-prefixed, K-sortable and UUIDv7-based.
package jobhub
