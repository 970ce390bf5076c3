package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// MetricsConfig конфигурация метрик
type MetricsConfig struct {
	Enabled       bool              `yaml:"enabled"`
	ExporterType  string            `yaml:"exporter"`
	Path          string            `yaml:"path"`
	ResourceAttrs map[string]string `yaml:"resource_attrs"`
}

// Exporter MeterProvider процесса вместе с registry, из которого читает /metrics
type Exporter struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry
}

// SetupMetrics создает собственный Prometheus registry с метриками Go runtime и процесса,
// подключает к нему otel exporter и регистрирует глобальный MeterProvider
func SetupMetrics(config *MetricsConfig, service string) (*Exporter, error) {
	if config == nil {
		config = &MetricsConfig{ExporterType: "prometheus"}
	}
	if config.ExporterType != "" && config.ExporterType != "prometheus" {
		return nil, fmt.Errorf("unknown exporter type: %s", config.ExporterType)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reader, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(service)}
	for k, v := range config.ResourceAttrs {
		attrs = append(attrs, attribute.String(k, v))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	return &Exporter{provider: provider, registry: registry}, nil
}

// Handler scrape endpoint
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

// Shutdown выгружает и останавливает MeterProvider
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}
