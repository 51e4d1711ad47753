package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/jobhub/ext"
	"github.com/xraph/jobhub/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobEnqueued  = (*MetricsExtension)(nil)
	_ ext.JobRunning   = (*MetricsExtension)(nil)
	_ ext.JobSucceeded = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobAborted   = (*MetricsExtension)(nil)
)

// meterName is the instrumentation scope of the lifecycle counters.
const meterName = "github.com/xraph/jobhub/observability"

// MetricsExtension records system-wide lifecycle counters through an
// OpenTelemetry meter. Register it as an extension to track enqueue
// rates and how many jobs reach each outcome, per tenant and kind.
type MetricsExtension struct {
	JobEnqueued  metric.Int64Counter
	JobRunning   metric.Int64Counter
	JobSucceeded metric.Int64Counter
	JobFailed    metric.Int64Counter
	JobAborted   metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Instrument creation errors fall back to noop counters.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	return &MetricsExtension{
		JobEnqueued:  counter(meter, "jobhub.job.enqueued", "Jobs persisted in pending"),
		JobRunning:   counter(meter, "jobhub.job.running", "Jobs that entered running"),
		JobSucceeded: counter(meter, "jobhub.job.succeeded", "Jobs that succeeded"),
		JobFailed:    counter(meter, "jobhub.job.failed", "Jobs that failed"),
		JobAborted:   counter(meter, "jobhub.job.aborted", "Jobs that were aborted"),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	// On error, the API returns a noop instrument.
	c, _ := meter.Int64Counter(name,
		metric.WithDescription(desc),
		metric.WithUnit("{job}"),
	)
	return c
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func recordAttrs(r *job.Record) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("tenant", r.Tenant),
		attribute.String("job_kind", r.Kind),
	)
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, r *job.Record) error {
	m.JobEnqueued.Add(ctx, 1, recordAttrs(r))
	return nil
}

// OnJobRunning implements ext.JobRunning.
func (m *MetricsExtension) OnJobRunning(ctx context.Context, r *job.Record) error {
	m.JobRunning.Add(ctx, 1, recordAttrs(r))
	return nil
}

// OnJobSucceeded implements ext.JobSucceeded.
func (m *MetricsExtension) OnJobSucceeded(ctx context.Context, r *job.Record, _ time.Duration) error {
	m.JobSucceeded.Add(ctx, 1, recordAttrs(r))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, r *job.Record, _ error) error {
	m.JobFailed.Add(ctx, 1, recordAttrs(r))
	return nil
}

// OnJobAborted implements ext.JobAborted.
func (m *MetricsExtension) OnJobAborted(ctx context.Context, r *job.Record) error {
	m.JobAborted.Add(ctx, 1, recordAttrs(r))
	return nil
}
