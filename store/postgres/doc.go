// Package postgres implements job.Store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED claims for the store fallback, conditional
// UPDATE for status compare-and-set, batched progress writes and
// embedded SQL migrations.
package postgres
