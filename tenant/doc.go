// Package tenant holds the per-instance view of tenants: which tenants
// are active, how many jobs each one has in flight on this instance, and
// the slot and rate limits applied when claiming work for it.
//
// # Table
//
// [Table] keeps one entry per active tenant. The scheduling loop refreshes
// slot maxima every tick and calls Acquire before claiming a job; the
// dispatcher calls Release when that job's dispatch ends. Counters are
// atomic because both sides run on different goroutines.
//
//	tbl := tenant.NewTable(tenant.Config{Tenant: "acme", RateLimit: 5, RateBurst: 10})
//	tbl.Refresh([]string{"acme", "globex"}, 4)
//	if tbl.Acquire("acme") {
//	    defer tbl.Release("acme")
//	}
//
// # Resolution
//
// A [Resolver] lists active tenants. [Static] serves a fixed, mutable
// list and can flag tenants in maintenance mode.
package tenant
