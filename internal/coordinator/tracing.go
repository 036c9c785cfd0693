package coordinator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// span names, grouped into a fixed vocabulary rather than building
// names ad hoc at each call site.
const (
	spanEventDispatch   = "event.dispatch"
	spanScheduleFire    = "schedule.fire"
	spanStageDispatch   = "pipeline.stage.dispatch"
	spanSupervisorSweep = "supervisor.sweep"
	spanAutonomousDrive = "autonomous.drive"
)

// NewTracerProvider builds an SDK tracer provider for serviceName and
// installs it as the global provider. No exporter is wired by default:
// spans are produced and sampled but not shipped anywhere until an
// operator plugs in a SpanProcessor via RegisterSpanProcessor — the
// scaffolding is real, the backend is a deployment-time choice.
func NewTracerProvider(serviceName string) (*sdktrace.TracerProvider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)
	return provider, nil
}

func (c *Coordinator) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
