// Package observability provides the telemetry bootstrap (OpenTelemetry
// tracing and metrics behind one config and one shutdown) and the
// structured logger that redacts the secrets this service handles.
package observability

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
)

// OTELConfig configures the shared telemetry bootstrap. Both signals
// export to the same endpoint under the same transport-security decision.
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string // empty disables OTLP export
	Insecure       bool   // plaintext gRPC, for local collectors only
}

// Providers bundles the tracer and meter providers behind one shutdown.
type Providers struct {
	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider
}

// InitOTEL initializes tracing and metrics together: one resource, one
// exporter endpoint, one TLS decision. The returned Providers must be
// shut down on exit so queued spans and the final metric collection are
// flushed.
func InitOTEL(ctx context.Context, cfg OTELConfig) (*Providers, error) {
	// Service attributes only; resource.Default() can introduce schema
	// conflicts between otel SDK versions.
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	)

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if cfg.Endpoint != "" {
		// Collectors run plaintext in local compose setups and TLS
		// everywhere else; Insecure is the explicit opt-out.
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})

		traceExporter, err := otlptracegrpc.New(ctx, traceExportOpts(cfg, creds)...)
		if err != nil {
			return nil, fmt.Errorf("create OTLP trace exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(traceExporter))

		metricExporter, err := otlpmetricgrpc.New(ctx, metricExportOpts(cfg, creds)...)
		if err != nil {
			return nil, fmt.Errorf("create OTLP metric exporter: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	}

	providers := &Providers{
		tracer: sdktrace.NewTracerProvider(traceOpts...),
		meter:  sdkmetric.NewMeterProvider(meterOpts...),
	}

	otel.SetTracerProvider(providers.tracer)
	otel.SetMeterProvider(providers.meter)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return providers, nil
}

func traceExportOpts(cfg OTELConfig, creds credentials.TransportCredentials) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		return append(opts, otlptracegrpc.WithInsecure())
	}
	return append(opts, otlptracegrpc.WithTLSCredentials(creds))
}

func metricExportOpts(cfg OTELConfig, creds credentials.TransportCredentials) []otlpmetricgrpc.Option {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		return append(opts, otlpmetricgrpc.WithInsecure())
	}
	return append(opts, otlpmetricgrpc.WithTLSCredentials(creds))
}

// Shutdown flushes and stops both providers, joining their errors.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tracer != nil {
		errs = append(errs, p.tracer.Shutdown(ctx))
	}
	if p.meter != nil {
		errs = append(errs, p.meter.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Tracer returns a tracer for the given instrumentation name.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Meter returns a meter for the given instrumentation name.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// TraceIDFromContext extracts the trace ID from context as a string.
// Returns empty string if no trace is active.
func TraceIDFromContext(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.HasTraceID() {
		return ""
	}
	return spanCtx.TraceID().String()
}
