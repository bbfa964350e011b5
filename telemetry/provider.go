// Package telemetry provides OpenTelemetry integration: TracerProvider
// management and helpers for tool-call and connect spans.
package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilsonaustin10/arnoldaibackend/version"
)

// InstrumentationName is the OTel instrumentation scope name.
const InstrumentationName = "github.com/wilsonaustin10/arnoldaibackend"

// Resource attribute keys set on every exported span.
const (
	attrServiceName    = "service.name"
	attrServiceVersion = "service.version"
	attrEnvironment    = "deployment.environment.name"
	attrVCSRevision    = "vcs.revision"
)

// ProviderOptions configures NewTracerProvider.
type ProviderOptions struct {
	// Endpoint is the OTLP/HTTP collector URL.
	Endpoint    string
	ServiceName string
	// Environment is recorded as deployment.environment.name when set.
	Environment string
	// SampleRatio is the fraction of new traces recorded. Values outside
	// (0, 1) record every trace. Sampled parents are always honored.
	SampleRatio float64
}

// Tracer returns a named tracer from the given TracerProvider.
// If tp is nil the global provider is used.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(InstrumentationName, trace.WithInstrumentationVersion(version.GetVersion()))
}

// NewTracerProvider creates a TracerProvider that exports spans via OTLP/HTTP.
// The caller is responsible for calling Shutdown on the returned provider.
func NewTracerProvider(ctx context.Context, opts ProviderOptions) (*sdktrace.TracerProvider, error) {
	if opts.ServiceName == "" {
		return nil, errors.New("telemetry: service name is required")
	}
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(opts.Endpoint))
	if err != nil {
		return nil, err
	}

	res, err := NewResource(ctx, opts)
	if err != nil {
		return nil, err
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(opts.SampleRatio)),
	), nil
}

// NewResource describes this process: service identity and build from opts
// and the version package, host details, and OTEL_RESOURCE_ATTRIBUTES.
func NewResource(ctx context.Context, opts ProviderOptions) (*resource.Resource, error) {
	info := version.Get()
	attrs := []attribute.KeyValue{
		attribute.String(attrServiceName, opts.ServiceName),
		attribute.String(attrServiceVersion, info.Version),
	}
	if opts.Environment != "" {
		attrs = append(attrs, attribute.String(attrEnvironment, opts.Environment))
	}
	if info.Commit != "" {
		attrs = append(attrs, attribute.String(attrVCSRevision, info.Commit))
	}

	// Explicit attributes come last so they win over the environment.
	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithFromEnv(),
		resource.WithAttributes(attrs...),
	)
	if err != nil && !errors.Is(err, resource.ErrPartialResource) {
		return nil, err
	}
	return res, nil
}

// Sampler returns a parent-based sampler recording ratio of root traces.
func Sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// SetupPropagation configures the global text-map propagator for W3C
// TraceContext and Baggage headers, plus AWS X-Ray headers set by load
// balancers in front of the server.
func SetupPropagation() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
		xray.Propagator{},
	))
}
