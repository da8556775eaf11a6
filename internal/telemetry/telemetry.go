// Package telemetry wires chronoforge's Driver into OpenTelemetry tracing
// and metrics. Wiring an exporter is left to the caller (typically
// cmd/chronoforge); by default the global noop providers are used, which
// still exercise the same instrumentation code paths with near-zero cost.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/radioactive-labs/chrono-forge/pkg/chronoforge"
)

const instrumentationName = "github.com/radioactive-labs/chrono-forge"

// Telemetry implements chronoforge.Telemetry over the globally configured
// OpenTelemetry tracer and meter providers.
type Telemetry struct {
	tracer    trace.Tracer
	completed metric.Int64Counter
	failed    metric.Int64Counter
	stalled   metric.Int64Counter
}

var _ chronoforge.Telemetry = (*Telemetry)(nil)

// New constructs a Telemetry instrumenting against the current global
// OpenTelemetry providers (otel.Tracer / otel.Meter).
func New() *Telemetry {
	meter := otel.Meter(instrumentationName)

	completed, _ := meter.Int64Counter("chronoforge.workflow.completed")
	failed, _ := meter.Int64Counter("chronoforge.workflow.failed")
	stalled, _ := meter.Int64Counter("chronoforge.workflow.stalled")

	return &Telemetry{
		tracer:    otel.Tracer(instrumentationName),
		completed: completed,
		failed:    failed,
		stalled:   stalled,
	}
}

func (t *Telemetry) PerformStarted(ctx context.Context, jobClass, key string, attempt int) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "chronoforge.perform",
		trace.WithAttributes(
			attribute.String("job_class", jobClass),
			attribute.String("key", key),
			attribute.Int("attempt", attempt),
		),
	)
	return ctx, func() { span.End() }
}

func (t *Telemetry) WorkflowCompleted(jobClass string) {
	t.completed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("job_class", jobClass)))
}

func (t *Telemetry) WorkflowFailed(jobClass string) {
	t.failed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("job_class", jobClass)))
}

func (t *Telemetry) WorkflowStalled(jobClass string) {
	t.stalled.Add(context.Background(), 1, metric.WithAttributes(attribute.String("job_class", jobClass)))
}
