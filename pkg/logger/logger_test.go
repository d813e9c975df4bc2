package logger

import (
	"context"
	"errors"
	"testing"

	apperrors "sharecast/pkg/errors"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	l := New("chatty")
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_Debug(t *testing.T) {
	l := New("DEBUG")
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestNewWithEncoding(t *testing.T) {
	l := NewWithEncoding("warn", "console")
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))

	assert.NotNil(t, NewWithEncoding("info", "xml"))
}

func TestContextLogger_AddsSessionFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithSessionID(context.Background(), "sess-1")
	ctx = WithTraceID(ctx, "trace-1")
	cl.LogCoded(ctx, "screenshare_started", "share started")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "sess-1", fields["session_id"])
		assert.Equal(t, "trace-1", fields["trace_id"])
		assert.Equal(t, "screenshare_started", fields["log_code"])
	}
}

func TestContextLogger_LogCodedError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	cl.LogCodedError(context.Background(), "screenshare_view_failed",
		apperrors.NewViewError(errors.New("boom")), "Screenshare viewer failure")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
		assert.Equal(t, "VIEW_FAILED", fields["error_name"])
		assert.Contains(t, fields["error_message"], "boom")
	}
}

func TestErrorInfo_Nil(t *testing.T) {
	assert.Nil(t, ErrorInfo(nil))
	fields := ErrorInfo(errors.New("x"))
	assert.Equal(t, "*errors.errorString", fields[0].String)
}

func TestCoded(t *testing.T) {
	kv := Coded("screenshare_view_failed", errors.New("boom"), "has_audio", true)
	assert.Equal(t, []interface{}{
		"log_code", "screenshare_view_failed",
		"error_name", "*errors.errorString",
		"error_message", "boom",
		"has_audio", true,
	}, kv)

	assert.Equal(t, []interface{}{"log_code", "x"}, Coded("x", nil))
}
