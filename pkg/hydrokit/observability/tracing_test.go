package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTracingTest installs an in-memory tracer provider for the test.
func setupTracingTest(t *testing.T) *tracetest.InMemoryExporter {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer("hydrokit")

	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down tracer provider: %v", err)
		}
	})
	return exporter
}

func TestSpanManager(t *testing.T) {
	exporter := setupTracingTest(t)
	sm := NewSpanManager()

	ctx, expand := sm.StartExpandSpan(context.Background(), "/srv/addons")
	_, module := sm.StartModuleSpan(ctx, "/srv/addons/blog/index.lua")
	sm.EndSpanWithError(module, errors.New("cache rejected"))
	sm.EndSpanWithError(expand, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	assert.Equal(t, "hydrokit.module.load", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())

	assert.Equal(t, "hydrokit.addon.expand", spans[1].Name)
	assert.Equal(t, codes.Ok, spans[1].Status.Code)
	assert.Contains(t, spans[1].Attributes, attribute.String("addon.root", "/srv/addons"))
}

func TestPhaseSpanEvents(t *testing.T) {
	exporter := setupTracingTest(t)
	sm := NewSpanManager()

	ctx, span := sm.StartPhaseSpan(context.Background(), "service")
	sm.AddSpanEvent(ctx, "addon.loaded", attribute.String("addon", "blog"))
	sm.EndSpanWithError(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "hydrokit.host.service", spans[0].Name)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "addon.loaded", spans[0].Events[0].Name)
}

func TestNoopSpanManager(t *testing.T) {
	sm := NoopSpanManager{}
	ctx := context.Background()

	got, span := sm.StartModuleSpan(ctx, "x")
	assert.Equal(t, ctx, got)
	assert.False(t, span.IsRecording())
	assert.NotPanics(t, func() {
		sm.AddSpanEvent(ctx, "e")
		sm.EndSpanWithError(span, errors.New("x"))
	})
	EndSpanWithError(nil, nil)
}
