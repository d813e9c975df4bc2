package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "sharecast"

var (
	SessionIDKey   = attribute.Key("screenshare.session_id")
	ContentTypeKey = attribute.Key("screenshare.content_type")
	PresenterKey   = attribute.Key("screenshare.presenter")
	HasAudioKey    = attribute.Key("screenshare.has_audio")
	StatKindsKey   = attribute.Key("screenshare.stat_kinds")
)

type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "sharecast",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  1.0,
	}
}

// TracerProvider is a no-op when tracing is disabled.
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

// Init installs a Jaeger-backed provider and W3C propagation globally.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &TracerProvider{tp: tp}, nil
}

func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp == nil {
		return nil
	}
	return tp.tp.Shutdown(ctx)
}

func start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentation).Start(ctx, name, trace.WithAttributes(attrs...))
}

func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return start(ctx, "http."+method,
		semconv.HTTPMethodKey.String(method),
		semconv.HTTPRouteKey.String(route),
	)
}

// TraceShare spans one step of the outbound share ("start", ...).
func TraceShare(ctx context.Context, operation string, presenter bool) (context.Context, trace.Span) {
	return start(ctx, "screenshare."+operation, PresenterKey.Bool(presenter))
}

func TraceView(ctx context.Context, hasAudio bool) (context.Context, trace.Span) {
	return start(ctx, "screenshare.view", HasAudioKey.Bool(hasAudio))
}

func TraceStats(ctx context.Context, kinds []string) (context.Context, trace.Span) {
	return start(ctx, "screenshare.stats", StatKindsKey.StringSlice(kinds))
}

// AnnotateSession tags the span in ctx with the committed share session.
func AnnotateSession(ctx context.Context, sessionID, contentType string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(SessionIDKey.String(sessionID), ContentTypeKey.String(contentType))
}

func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
