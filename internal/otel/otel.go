// Package otel wires OpenTelemetry tracing and metrics for the relay.
// When disabled every instrument is a no-op.
package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const (
	TracerName = "captcha-relay"
	MeterName  = "captcha-relay"
	Version    = "v0.3.0"

	defaultOTLPEndpoint = "localhost:4318"
)

// Exporters accepted in Config.Exporter. Empty means otlp-http.
const (
	ExporterOTLPHTTP = "otlp-http"
	ExporterStdout   = "stdout"
	ExporterNone     = "none"
)

// Config is the telemetry block of the relay configuration
// (OTEL_ENABLED, OTEL_EXPORTER, OTEL_ENDPOINT, OTEL_SERVICE_NAME).
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// Provider hands a tracer and meter to the orchestrator, the api and the
// inference client.
type Provider struct {
	Tracer   trace.Tracer
	Meter    metric.Meter
	shutdown []func(context.Context) error
}

func Noop() *Provider {
	return &Provider{
		Tracer: nooptrace.NewTracerProvider().Tracer(TracerName),
		Meter:  noop.NewMeterProvider().Meter(MeterName),
	}
}

// Init builds the relay's tracer and meter from cfg. Spans go to the chosen
// exporter; the "none" exporter records spans without shipping them.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}

	tpOpts, err := spanExport(ctx, cfg)
	if err != nil {
		return nil, err
	}

	name := cfg.ServiceName
	if name == "" {
		name = TracerName
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(name),
		attribute.String("relay.version", Version),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(append(tpOpts, sdktrace.WithResource(res))...)
	otel.SetTracerProvider(tp)
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))

	return &Provider{
		Tracer:   tp.Tracer(TracerName),
		Meter:    mp.Meter(MeterName),
		shutdown: []func(context.Context) error{tp.Shutdown, mp.Shutdown},
	}, nil
}

// Shutdown flushes pending spans. Safe on a Noop provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

func spanExport(ctx context.Context, cfg Config) ([]sdktrace.TracerProviderOption, error) {
	switch cfg.Exporter {
	case ExporterOTLPHTTP, "":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		return []sdktrace.TracerProviderOption{sdktrace.WithBatcher(exp)}, nil
	case ExporterStdout:
		exp, err := stdouttrace.New()
		if err != nil {
			return nil, fmt.Errorf("stdout exporter: %w", err)
		}
		return []sdktrace.TracerProviderOption{sdktrace.WithSyncer(exp)}, nil
	case ExporterNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown telemetry exporter %q (want %s, %s or %s)",
		cfg.Exporter, ExporterOTLPHTTP, ExporterStdout, ExporterNone)
}
