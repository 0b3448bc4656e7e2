package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer uses the global OTel tracer provider.
var tracer = otel.Tracer("hydrokit")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartExpandSpan starts a span covering expansion of a package root.
	StartExpandSpan(ctx context.Context, root string) (context.Context, trace.Span)

	// StartModuleSpan starts a span for one module load.
	StartModuleSpan(ctx context.Context, path string) (context.Context, trace.Span)

	// StartPhaseSpan starts a span for a host load phase.
	StartPhaseSpan(ctx context.Context, phase string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses the global OTel tracer provider.
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) StartExpandSpan(ctx context.Context, root string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "hydrokit.addon.expand",
		trace.WithAttributes(attribute.String("addon.root", root)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartModuleSpan(ctx context.Context, path string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "hydrokit.module.load",
		trace.WithAttributes(attribute.String("module.path", path)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartPhaseSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "hydrokit.host."+phase,
		trace.WithAttributes(attribute.String("host.phase", phase)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
