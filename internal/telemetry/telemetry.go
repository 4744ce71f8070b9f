// Package telemetry exposes mesh metrics through OpenTelemetry with a
// Prometheus exporter. Every Record function is a no-op until Install.
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelglobal "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const meterName = "reasonmesh"

// Common attribute keys for metrics.
var (
	AttrResult = attribute.Key("result")
	AttrStatus = attribute.Key("status")
	AttrAgent  = attribute.Key("agent")
	AttrKind   = attribute.Key("kind")
)

// InitMeterProvider installs a global MeterProvider backed by a Prometheus
// exporter and returns the /metrics handler plus the provider for shutdown.
func InitMeterProvider(ctx context.Context, serviceName string) (http.Handler, *sdkmetric.MeterProvider, error) {
	if serviceName == "" {
		serviceName = meterName
	}
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otelglobal.SetMeterProvider(provider)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}), provider, nil
}

// Init builds instruments on the global MeterProvider and installs them.
func Init() error {
	m, err := New(otelglobal.GetMeterProvider())
	if err != nil {
		return err
	}
	Install(m)
	return nil
}
