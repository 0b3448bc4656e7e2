package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Prometheus bundles a meter provider that exports through a private
// Prometheus registry and the handler that serves it.
type Prometheus struct {
	Registry *prometheus.Registry
	Provider *sdkmetric.MeterProvider
}

// SetupPrometheus creates a Prometheus-backed meter provider and installs it
// as the global OTel meter provider.
func SetupPrometheus() (*Prometheus, error) {
	reg := prometheus.NewRegistry()
	exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	return &Prometheus{Registry: reg, Provider: provider}, nil
}

// Handler returns the /metrics HTTP handler.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (p *Prometheus) Shutdown(ctx context.Context) error {
	return p.Provider.Shutdown(ctx)
}
