package infrastructure

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// MeterName is the instrumentation scope for engine metrics
const MeterName = "keygate"

// Telemetry holds the initialized metric provider and its HTTP exposition handler
type Telemetry struct {
	MeterProvider *sdkmetric.MeterProvider
	Meter         metric.Meter
	MetricsHTTP   http.Handler
}

// InitializeTelemetry sets up the OpenTelemetry meter provider with a
// Prometheus reader. The returned handler serves the /metrics endpoint.
func InitializeTelemetry(serviceVersion string) (*Telemetry, error) {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(MeterName),
		semconv.ServiceVersion(serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)

	return &Telemetry{
		MeterProvider: mp,
		Meter:         mp.Meter(MeterName, metric.WithInstrumentationVersion(serviceVersion)),
		MetricsHTTP:   promhttp.Handler(),
	}, nil
}

// Shutdown flushes and stops the meter provider
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.MeterProvider == nil {
		return nil
	}
	return t.MeterProvider.Shutdown(ctx)
}
