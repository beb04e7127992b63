package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Provider owns the meter and tracer providers for one cftmail process. A
// disabled Provider has nil Metrics and no metrics handler.
type Provider struct {
	meters   *metric.MeterProvider
	tracers  *sdktrace.TracerProvider
	metrics  *Metrics
	registry *prometheus.Registry
}

// NewProvider builds the providers described by cfg and installs them as
// the otel globals, so otelhttp and the span helpers pick them up.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	p := &Provider{}
	reader, err := p.metricReader(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.meters = metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(reader))

	p.tracers, err = newTracerProvider(ctx, cfg, res)
	if err != nil {
		return nil, errors.Join(err, p.meters.Shutdown(ctx))
	}

	p.metrics, err = NewMetrics(p.meters.Meter(cfg.ServiceName), cfg.SenderDomains)
	if err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}

	otel.SetMeterProvider(p.meters)
	otel.SetTracerProvider(p.tracers)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return p, nil
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	instance := cfg.InstanceID
	if instance == "" {
		instance, _ = os.Hostname()
	}
	if instance != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(instance))
	}

	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// metricReader keeps prometheus metrics in a registry of their own so two
// providers in one process (tests, a restarted server) never collide.
func (p *Provider) metricReader(ctx context.Context, cfg Config) (metric.Reader, error) {
	if cfg.MetricsExporter == ExporterPrometheus {
		p.registry = prometheus.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(p.registry))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		return exporter, nil
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}
	return metric.NewPeriodicReader(exporter), nil
}

func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.TracesExporter {
	case ExporterNone:
		return sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.NeverSample()),
		), nil
	case ExporterOTLP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	case ExporterStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s trace exporter: %w", cfg.TracesExporter, err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TraceSampling))),
	), nil
}

// Metrics returns the recorder, nil when instrumentation is disabled.
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

// MetricsHandler serves the prometheus registry, or returns nil when the
// provider is disabled or pushes metrics over OTLP.
func (p *Provider) MetricsHandler() http.Handler {
	if p == nil || p.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes pending telemetry.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.meters != nil {
		if err := p.meters.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
		}
	}
	if p.tracers != nil {
		if err := p.tracers.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
