package services

import (
	"context"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricApi "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsService exports API and generation metrics to Prometheus through
// OpenTelemetry.
type MetricsService struct {
	provider *metricApi.MeterProvider
	registry *prom.Registry

	Meter              metric.Meter
	ApiTimeMetric      metric.Float64Histogram
	GenerationDuration metric.Float64Histogram
	GenerationOutcomes metric.Int64Counter
	InFlight           metric.Int64UpDownCounter
}

func (m *MetricsService) ObserveAPICall(method string, path string, duration float64) {
	opts := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	)
	m.ApiTimeMetric.Record(context.Background(), duration, opts)
}

func (m *MetricsService) generationStarted(model string) {
	if m == nil {
		return
	}
	m.InFlight.Add(context.Background(), 1, metric.WithAttributes(attribute.String("model", model)))
}

func (m *MetricsService) generationSettled(model, status string, d time.Duration) {
	if m == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("model", model), attribute.String("status", status))
	m.InFlight.Add(ctx, -1, metric.WithAttributes(attribute.String("model", model)))
	m.GenerationOutcomes.Add(ctx, 1, attrs)
	m.GenerationDuration.Record(ctx, d.Seconds(), attrs)
}

// NewMetricsService bootstraps the OpenTelemetry pipeline for Prometheus
// export on a registry of its own. Call Shutdown when done.
func NewMetricsService() (*MetricsService, error) {
	registry := prom.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}
	provider := metricApi.NewMeterProvider(metricApi.WithReader(exporter))
	meter := provider.Meter("github.com/mudler/genstudio")

	apiTime, err := meter.Float64Histogram("api_call", metric.WithDescription("api calls"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("generation_duration",
		metric.WithDescription("time from dispatch to settlement of a generation"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	outcomes, err := meter.Int64Counter("generation_total", metric.WithDescription("settled generations by status"))
	if err != nil {
		return nil, err
	}
	inFlight, err := meter.Int64UpDownCounter("generation_in_flight", metric.WithDescription("generations still processing"))
	if err != nil {
		return nil, err
	}

	return &MetricsService{
		provider:           provider,
		registry:           registry,
		Meter:              meter,
		ApiTimeMetric:      apiTime,
		GenerationDuration: duration,
		GenerationOutcomes: outcomes,
		InFlight:           inFlight,
	}, nil
}

// Handler serves the registry in the Prometheus text format.
func (m *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsService) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
