package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/jobhub/job"
)

// Metrics records run duration and run counts on the global
// MeterProvider.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(instrumentationName))
}

// MetricsWithMeter records on meter:
//
//	jobhub.job.run.duration  histogram, seconds
//	jobhub.job.runs          counter
//	jobhub.job.progress      gauge, percent reached by runs that did not succeed
//
// All carry job_kind, tenant and outcome.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instrument errors leave noop instruments in place.
	duration, _ := meter.Float64Histogram("jobhub.job.run.duration",
		metric.WithDescription("Wall time of job runs"),
		metric.WithUnit("s"),
	)
	runs, _ := meter.Int64Counter("jobhub.job.runs",
		metric.WithDescription("Job runs by outcome"),
		metric.WithUnit("{run}"),
	)
	progress, _ := meter.Int64Gauge("jobhub.job.progress",
		metric.WithDescription("Percent completed when the run ended"),
		metric.WithUnit("%"),
	)

	return func(ctx context.Context, r *job.Record, next Handler) error {
		start := time.Now()
		err := next(ctx)

		out := outcome(ctx, err)
		set := metric.WithAttributes(
			attribute.String("job_kind", r.Kind),
			attribute.String("tenant", r.Tenant),
			attribute.String("outcome", out),
		)

		mctx := context.WithoutCancel(ctx)
		duration.Record(mctx, time.Since(start).Seconds(), set)
		runs.Add(mctx, 1, set)
		if out != OutcomeSucceeded {
			progress.Record(mctx, int64(r.PercentCompleted), set)
		}
		return err
	}
}
