package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func attrsOf(attrs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(attrs))
	for _, kv := range attrs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "sharecast", cfg.ServiceName)
	assert.Equal(t, "http://localhost:14268/api/traces", cfg.JaegerURL)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.False(t, cfg.Enabled)
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTraceShare_AnnotatesSession(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := TraceShare(context.Background(), "start", true)
	AnnotateSession(ctx, "sess-1", "screenshare")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "screenshare.start", ended[0].Name())

	attrs := attrsOf(ended[0].Attributes())
	assert.True(t, attrs[PresenterKey].AsBool())
	assert.Equal(t, "sess-1", attrs[SessionIDKey].AsString())
	assert.Equal(t, "screenshare", attrs[ContentTypeKey].AsString())
}

func TestRecordError_SetsStatus(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := TraceView(context.Background(), false)
	RecordError(ctx, errors.New("subscribe failed"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "subscribe failed", ended[0].Status().Description)
	assert.False(t, attrsOf(ended[0].Attributes())[HasAudioKey].AsBool())
}

func TestTraceStats_Kinds(t *testing.T) {
	recorder := withRecorder(t)

	_, span := TraceStats(context.Background(), []string{"outbound-rtp"})
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "screenshare.stats", ended[0].Name())
	assert.Equal(t, []string{"outbound-rtp"}, attrsOf(ended[0].Attributes())[StatKindsKey].AsStringSlice())
}

func TestHelpers_NoSpanInContext(t *testing.T) {
	ctx := context.Background()
	AnnotateSession(ctx, "s", "camera")
	RecordError(ctx, errors.New("ignored"))
	assert.False(t, trace.SpanFromContext(ctx).IsRecording())
}
