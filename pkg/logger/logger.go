package logger

import (
	"fmt"
	"strings"

	apperrors "sharecast/pkg/errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. "debug" gets a human readable console
// encoder, every other level logs JSON.
func New(level string) *zap.Logger {
	return NewWithEncoding(level, "")
}

// NewWithEncoding is New with an explicit "json" or "console" encoding.
// Anything else keeps the level's default.
func NewWithEncoding(level, encoding string) *zap.Logger {
	lvl := zap.NewAtomicLevel()
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl.SetLevel(zapcore.InfoLevel)
	}

	cfg := zap.NewProductionConfig()
	if lvl.Level() == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	switch encoding {
	case "json", "console":
		cfg.Encoding = encoding
	}
	cfg.Level = lvl
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// LogCode tags an entry with a stable machine-readable code.
func LogCode(code string) zap.Field {
	return zap.String("log_code", code)
}

// ErrorInfo expands err into the name/message pair used by error entries.
func ErrorInfo(err error) []zap.Field {
	if err == nil {
		return nil
	}
	return []zap.Field{
		zap.String("error_name", errorName(err)),
		zap.String("error_message", err.Error()),
	}
}

func errorName(err error) string {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return string(appErr.Code)
	}
	return fmt.Sprintf("%T", err)
}

// Coded builds key/value pairs for a SugaredLogger entry carrying a log
// code and, when err is non-nil, its name and message.
func Coded(code string, err error, keysAndValues ...interface{}) []interface{} {
	kv := make([]interface{}, 0, len(keysAndValues)+6)
	kv = append(kv, "log_code", code)
	if err != nil {
		kv = append(kv, "error_name", errorName(err), "error_message", err.Error())
	}
	return append(kv, keysAndValues...)
}
