package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordDispatch(context.Context, string, string, int, time.Duration, error) {}
func (NoopMetrics) RecordReplication(context.Context, string, string)                          {}
func (NoopMetrics) RecordPackage(context.Context, string, int64, error)                        {}
func (NoopMetrics) RecordModuleLoad(context.Context, string, time.Duration, error)             {}
func (NoopMetrics) RecordCacheRejected(context.Context, string)                                {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartExpandSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartExpandSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartModuleSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartModuleSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartPhaseSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartPhaseSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(trace.Span, error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(context.Context, string, ...attribute.KeyValue) {}
