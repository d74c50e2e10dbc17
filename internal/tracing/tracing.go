// Package tracing wires opt-in OpenTelemetry tracing through the gateway:
// incoming requests get a span named after the route, and outgoing adapter
// fetches carry W3C traceparent headers so a sync can be followed from the
// scheduler tick to the source's response. Disabled, everything degrades to
// pass-through.
package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config controls the OTLP pipeline. The zero value leaves tracing off.
type Config struct {
	Enabled        bool
	Endpoint       string // OTLP HTTP endpoint, e.g. "localhost:4318"
	ServiceName    string
	ServiceVersion string
	// SampleRatio in (0,1] thins root spans; outside that range every
	// request is sampled. Children always follow their parent's decision.
	SampleRatio float64
}

func (c Config) sampler() sdktrace.Sampler {
	if c.SampleRatio > 0 && c.SampleRatio < 1 {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
	}
	return sdktrace.AlwaysSample()
}

// Setup installs the global TracerProvider and W3C TraceContext + Baggage
// propagation. The returned shutdown flushes pending spans; call it on server
// close. A disabled config yields a no-op shutdown and no error.
func Setup(cfg Config) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	ctx := context.Background()

	// Local collectors speak plain HTTP.
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	attrs := []resource.Option{
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, resource.WithAttributes(
			semconv.ServiceVersionKey.String(cfg.ServiceVersion)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// spanName labels server spans by method and path so traces read as routes
// ("POST /v1/chat/completions") rather than one generic operation.
func spanName(_ string, r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

// Middleware instruments incoming requests. Without a global TracerProvider
// it is effectively a pass-through.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "routehub.request",
			otelhttp.WithSpanNameFormatter(spanName))
	}
}

// HTTPTransport instruments an outgoing http.RoundTripper so adapter fetches
// propagate traceparent/tracestate. A nil base means http.DefaultTransport.
func HTTPTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base)
}
