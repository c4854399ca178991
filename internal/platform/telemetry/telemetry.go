// Package telemetry wires OpenTelemetry tracing and metrics for the clinic
// server. Metrics are exposed in Prometheus format; traces go to an OTLP/HTTP
// collector when one is configured.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Baleenmedia2512/Healthcare-Center-App/internal/platform/telemetry"

// TelemetryConfig holds all configuration for the telemetry provider.
type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// OTLPEndpoint is host:port of an OTLP/HTTP collector. Empty keeps
	// spans in process.
	OTLPEndpoint   string
	OTLPInsecure   bool
	MetricsEnabled *bool // nil = use default (true)
	TracingEnabled *bool // nil = use default (true)
	SampleRate     float64
}

func (c *TelemetryConfig) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *TelemetryConfig) tracingOn() bool {
	if c.TracingEnabled == nil {
		return true
	}
	return *c.TracingEnabled
}

func (c *TelemetryConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "clinic-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
}

// BoolPtr is a helper to create a *bool for TelemetryConfig fields.
func BoolPtr(b bool) *bool {
	return &b
}

// Provider owns the SDK providers and the Prometheus registry behind
// /metrics.
type Provider struct {
	cfg            TelemetryConfig
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *prometheus.Registry

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewProvider builds the tracer and meter providers and installs them, with
// the W3C trace context propagator, as the otel globals.
func NewProvider(ctx context.Context, cfg TelemetryConfig) (*Provider, error) {
	cfg.applyDefaults()

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentName(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp, err := newTracerProvider(ctx, res, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	mp, err := newMeterProvider(res, registry, cfg)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{cfg: cfg, tracerProvider: tp, meterProvider: mp, registry: registry}, nil
}

func newTracerProvider(ctx context.Context, res *resource.Resource, cfg TelemetryConfig) (*sdktrace.TracerProvider, error) {
	sampler := sdktrace.TraceIDRatioBased(cfg.SampleRate)
	if !cfg.tracingOn() {
		sampler = sdktrace.NeverSample()
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)

	if cfg.OTLPEndpoint != "" && cfg.tracingOn() {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		tp.RegisterSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter))
	}
	return tp, nil
}

func newMeterProvider(res *resource.Resource, registry *prometheus.Registry, cfg TelemetryConfig) (*sdkmetric.MeterProvider, error) {
	if !cfg.metricsOn() {
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	), nil
}

// Meter returns a meter from this provider.
func (p *Provider) Meter() metric.Meter {
	return p.meterProvider.Meter(instrumentationName)
}

// Tracer returns a tracer from this provider.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracerProvider.Tracer(instrumentationName)
}

// MetricsHandler serves the Prometheus exposition at /metrics. It answers
// 404 when metrics are disabled.
func (p *Provider) MetricsHandler() echo.HandlerFunc {
	if !p.cfg.metricsOn() {
		return func(c echo.Context) error {
			return echo.NewHTTPError(http.StatusNotFound, "metrics disabled")
		}
	}
	return echo.WrapHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}

// Shutdown flushes pending spans and stops both providers. Later calls
// return the first result.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.shutdownErr = fmt.Errorf("failed to shutdown tracer provider: %w", err)
			return
		}
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.shutdownErr = fmt.Errorf("failed to shutdown meter provider: %w", err)
		}
	})
	return p.shutdownErr
}
