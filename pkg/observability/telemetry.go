package observability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/stdr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultServiceName = "request-decomposition"

// TelemetryConfig selects which signals a decomposition process exports
type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SamplingRate   float64
	EnableTracing  bool
	EnableMetrics  bool
}

func (c *TelemetryConfig) serviceName() string {
	if c.ServiceName == "" {
		return defaultServiceName
	}
	return c.ServiceName
}

// Telemetry holds the tracer and meter every session operation reports through
type Telemetry struct {
	tracer    trace.Tracer
	meter     metric.Meter
	shutdowns []func(context.Context) error
}

// NewTelemetry builds the exporters enabled in config. Disabled signals get
// noop providers so callers never branch on them.
func NewTelemetry(config *TelemetryConfig) (*Telemetry, error) {
	if config == nil {
		config = &TelemetryConfig{}
	}

	// export failures must not leak onto the CLI's stderr
	stdr.SetVerbosity(0)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(error) {}))

	t := &Telemetry{}
	name := config.serviceName()

	var res *resource.Resource
	if config.EnableTracing || config.EnableMetrics {
		var err error
		if res, err = newResource(config); err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	if config.EnableTracing {
		tp, err := newTracerProvider(config, res)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		otel.SetTracerProvider(tp)
		t.tracer = tp.Tracer(name, trace.WithInstrumentationVersion(config.ServiceVersion))
		t.shutdowns = append(t.shutdowns, tp.Shutdown)
	} else {
		t.tracer = noop.NewTracerProvider().Tracer(name)
	}

	if config.EnableMetrics {
		exporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exporter))
		otel.SetMeterProvider(mp)
		t.meter = mp.Meter(name, metric.WithInstrumentationVersion(config.ServiceVersion))
		t.shutdowns = append(t.shutdowns, mp.Shutdown)
	} else {
		t.meter = metricnoop.NewMeterProvider().Meter(name)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

// NewTelemetryWithProviders wraps already-constructed providers, as tests do
// with span recorders and manual readers. Shutdown of the providers stays
// with the caller.
func NewTelemetryWithProviders(config *TelemetryConfig, tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider) *Telemetry {
	if config == nil {
		config = &TelemetryConfig{}
	}
	name := config.serviceName()

	t := &Telemetry{
		tracer: noop.NewTracerProvider().Tracer(name),
		meter:  metricnoop.NewMeterProvider().Meter(name),
	}
	if tp != nil {
		t.tracer = tp.Tracer(name, trace.WithInstrumentationVersion(config.ServiceVersion))
	}
	if mp != nil {
		t.meter = mp.Meter(name, metric.WithInstrumentationVersion(config.ServiceVersion))
	}
	return t
}

// NewNoopTelemetry returns telemetry that records nothing
func NewNoopTelemetry() *Telemetry {
	return NewTelemetryWithProviders(nil, nil, nil)
}

func newResource(config *TelemetryConfig) (*resource.Resource, error) {
	hostname, _ := os.Hostname()
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.serviceName()),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
			attribute.String("host.name", hostname),
			attribute.String("service.namespace", "decomposition"),
		),
	)
}

// newTracerProvider exports spans over OTLP/HTTP. A short-lived CLI run only
// gets one batch, so the retry window stays small.
func newTracerProvider(config *TelemetryConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	client := otlptracehttp.NewClient(
		otlptracehttp.WithEndpoint(config.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithTimeout(5*time.Second),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
			Enabled:         true,
			InitialInterval: time.Second,
			MaxInterval:     5 * time.Second,
			MaxElapsedTime:  15 * time.Second,
		}),
	)
	exporter, err := otlptrace.New(context.Background(), client)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SamplingRate)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	), nil
}

// Shutdown flushes and stops every provider NewTelemetry started
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdowns {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

// Tracer returns the configured tracer
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Meter returns the configured meter
func (t *Telemetry) Meter() metric.Meter {
	return t.meter
}

// StartSpan starts a span on the configured tracer
func (t *Telemetry) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}
