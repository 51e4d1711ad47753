// Package observability provides OpenTelemetry-based lifecycle metrics
// for jobhub. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for jobs enqueued, running, succeeded, failed and
// aborted.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
