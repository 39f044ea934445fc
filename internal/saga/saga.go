package saga

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/deidlabs/linkd/internal/telemetry"
)

// runner carries the instrumentation shared by both workflows.
type runner struct {
	log     *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics
}

// step runs one workflow step under a span, recording its duration and, on
// failure, its error kind.
func (r *runner) step(ctx context.Context, workflow, name string, f func(context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, workflow+"."+name)
	defer span.End()

	start := time.Now()
	err := f(ctx)
	r.metrics.StepDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("workflow", workflow),
		attribute.String("step", name),
	))
	if err != nil {
		span.RecordError(err)
		r.metrics.StepErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("workflow", workflow),
			attribute.String("step", name),
			attribute.String("kind", string(KindOf(err))),
		))
	}
	return err
}
