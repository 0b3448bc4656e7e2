package observability

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest installs a manual-reader meter provider for the test.
func setupMetricsTest(t *testing.T) *sdkmetric.ManualReader {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	original := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	t.Cleanup(func() {
		otel.SetMeterProvider(original)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	})
	return reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumOf(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", m.Data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewMetricsRecorder(t *testing.T) {
	setupMetricsTest(t)

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)
	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop)
}

func TestRecordDispatch(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordDispatch(ctx, "app/started", "serial", 2, 5*time.Millisecond, nil)
	m.RecordDispatch(ctx, "app/started", "serial", 2, 5*time.Millisecond, errors.New("x"))

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumOf(t, findMetric(rm, "hydrokit.hook.dispatches")))
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "hydrokit.hook.errors")))
	assert.NotNil(t, findMetric(rm, "hydrokit.hook.latency_ms"))
}

func TestRecordReplicationAndModules(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordReplication(ctx, "user/login", DirectionSent)
	m.RecordReplication(ctx, "user/login", DirectionEcho)
	m.RecordPackage(ctx, "blog", 1024, nil)
	m.RecordPackage(ctx, "bad", 0, errors.New("corrupt"))
	m.RecordModuleLoad(ctx, "cache", time.Millisecond, nil)
	m.RecordCacheRejected(ctx, "/a.hbc")

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumOf(t, findMetric(rm, "hydrokit.bus.records")))
	assert.Equal(t, int64(2), sumOf(t, findMetric(rm, "hydrokit.addon.packages")))
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "hydrokit.module.loads")))
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "hydrokit.module.cache_rejected")))
}

func TestNoopMetrics(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordDispatch(ctx, "e", "parallel", 0, 0, nil)
		m.RecordReplication(ctx, "e", DirectionReceived)
		m.RecordPackage(ctx, "p", 0, nil)
		m.RecordModuleLoad(ctx, "source", 0, nil)
		m.RecordCacheRejected(ctx, "p")
	})
}

func TestSetupPrometheus(t *testing.T) {
	original := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(original) })

	prom, err := SetupPrometheus()
	require.NoError(t, err)
	t.Cleanup(func() { _ = prom.Shutdown(context.Background()) })

	m, err := newOtelMetrics()
	require.NoError(t, err)
	m.RecordReplication(context.Background(), "user/login", DirectionReceived)

	rec := httptest.NewRecorder()
	prom.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Regexp(t, `hydrokit[._]bus[._]records`, string(body))
}
