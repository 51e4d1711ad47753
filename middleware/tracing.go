package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/jobhub/job"
)

const instrumentationName = "github.com/xraph/jobhub"

// SpanName is the name of the span opened around each job run.
const SpanName = "jobhub.job.run"

// Tracing opens a span per run on the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer opens a span per run on tracer. The span carries the
// job id, kind, tenant, priority and whether a workspace was assigned,
// and ends with a jobhub.job.outcome attribute. Only failures set an
// error status: an aborted run is an expected end, not a fault.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, r *job.Record, next Handler) error {
		ctx, span := tracer.Start(ctx, SpanName,
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("jobhub.job.id", r.ID.String()),
				attribute.String("jobhub.job.kind", r.Kind),
				attribute.String("jobhub.tenant", r.Tenant),
				attribute.Int("jobhub.job.priority", r.Priority),
				attribute.Bool("jobhub.job.workspace", r.Workspace != ""),
			),
		)
		defer span.End()

		err := next(ctx)

		out := outcome(ctx, err)
		span.SetAttributes(attribute.String("jobhub.job.outcome", out))
		switch out {
		case OutcomeSucceeded:
			span.SetStatus(codes.Ok, "")
		case OutcomeAborted:
			span.AddEvent("job interrupted")
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}
