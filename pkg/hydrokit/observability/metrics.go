package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Replication directions for RecordReplication.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
	DirectionEcho     = "echo"
)

// MetricsRecorder records kernel metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordDispatch records one hook dispatch.
	RecordDispatch(ctx context.Context, event, mode string, listeners int, duration time.Duration, err error)

	// RecordReplication records a bus record sent, received or dropped as an echo.
	RecordReplication(ctx context.Context, event, direction string)

	// RecordPackage records an expanded (or failed) add-on package.
	RecordPackage(ctx context.Context, name string, sizeBytes int64, err error)

	// RecordModuleLoad records a module load by kind ("source" or "cache").
	RecordModuleLoad(ctx context.Context, kind string, duration time.Duration, err error)

	// RecordCacheRejected records a code-cache blob the runtime refused.
	RecordCacheRejected(ctx context.Context, path string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	dispatches    metric.Int64Counter
	dispatchTime  metric.Float64Histogram
	listenerFails metric.Int64Counter
	replication   metric.Int64Counter
	packages      metric.Int64Counter
	packageSize   metric.Int64Histogram
	moduleLoads   metric.Int64Counter
	moduleTime    metric.Float64Histogram
	cacheRejects  metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics lazily initializes the shared OTel metrics instance.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("hydrokit")
	m := &otelMetrics{}
	var err error

	if m.dispatches, err = meter.Int64Counter("hydrokit.hook.dispatches",
		metric.WithDescription("Number of hook dispatches"),
	); err != nil {
		return nil, err
	}
	if m.dispatchTime, err = meter.Float64Histogram("hydrokit.hook.latency_ms",
		metric.WithDescription("Hook dispatch latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.listenerFails, err = meter.Int64Counter("hydrokit.hook.errors",
		metric.WithDescription("Number of dispatches that ended in a listener error"),
	); err != nil {
		return nil, err
	}
	if m.replication, err = meter.Int64Counter("hydrokit.bus.records",
		metric.WithDescription("Bus records by direction"),
	); err != nil {
		return nil, err
	}
	if m.packages, err = meter.Int64Counter("hydrokit.addon.packages",
		metric.WithDescription("Number of add-on packages processed"),
	); err != nil {
		return nil, err
	}
	if m.packageSize, err = meter.Int64Histogram("hydrokit.addon.size_bytes",
		metric.WithDescription("Compressed add-on package size"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if m.moduleLoads, err = meter.Int64Counter("hydrokit.module.loads",
		metric.WithDescription("Number of module loads"),
	); err != nil {
		return nil, err
	}
	if m.moduleTime, err = meter.Float64Histogram("hydrokit.module.latency_ms",
		metric.WithDescription("Module load latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.cacheRejects, err = meter.Int64Counter("hydrokit.module.cache_rejected",
		metric.WithDescription("Number of code-cache blobs rejected"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// (for example with SetupPrometheus) before calling this function.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordDispatch(ctx context.Context, event, mode string, listeners int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("mode", mode),
	)
	m.dispatches.Add(ctx, 1, attrs)
	m.dispatchTime.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.listenerFails.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordReplication(ctx context.Context, event, direction string) {
	m.replication.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("direction", direction),
	))
}

func (m *otelMetrics) RecordPackage(ctx context.Context, name string, sizeBytes int64, err error) {
	attrs := metric.WithAttributes(
		attribute.String("package", name),
		attribute.Bool("success", err == nil),
	)
	m.packages.Add(ctx, 1, attrs)
	if err == nil {
		m.packageSize.Record(ctx, sizeBytes, attrs)
	}
}

func (m *otelMetrics) RecordModuleLoad(ctx context.Context, kind string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", err == nil),
	)
	m.moduleLoads.Add(ctx, 1, attrs)
	m.moduleTime.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (m *otelMetrics) RecordCacheRejected(ctx context.Context, path string) {
	m.cacheRejects.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
}
