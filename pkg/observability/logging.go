package observability

import (
	"context"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LoggerOptions configures a StructuredLogger
type LoggerOptions struct {
	Level  string    // "debug", "info", "warn", "error"
	Format string    // "json", "text"
	Output io.Writer // defaults to stderr
}

// StructuredLogger provides structured logging with trace correlation
type StructuredLogger struct {
	base      *zap.Logger
	zl        *zap.Logger
	component string
}

func newStructuredLogger(base *zap.Logger, component string) *StructuredLogger {
	return &StructuredLogger{
		base:      base,
		zl:        base.With(zap.String("component", component)),
		component: component,
	}
}

// NewStructuredLogger creates a JSON info-level logger for a component
func NewStructuredLogger(component string) *StructuredLogger {
	logger, err := NewStructuredLoggerWithOptions(component, LoggerOptions{Level: "info", Format: "json"})
	if err != nil {
		return newStructuredLogger(zap.NewNop(), component)
	}
	return logger
}

// NewStructuredLoggerWithOptions creates a logger with explicit level, format and output
func NewStructuredLoggerWithOptions(component string, opts LoggerOptions) (*StructuredLogger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.LevelKey = "severity"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	if opts.Format == "text" {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(out), level)
	return newStructuredLogger(zap.New(core), component), nil
}

// extractTraceInfo extracts trace and span IDs from context
func extractTraceInfo(ctx context.Context) (traceID, spanID string) {
	span := trace.SpanFromContext(ctx)
	if span != nil {
		spanCtx := span.SpanContext()
		if spanCtx.IsValid() {
			traceID = spanCtx.TraceID().String()
			spanID = spanCtx.SpanID().String()
		}
	}
	return traceID, spanID
}

func (l *StructuredLogger) fields(ctx context.Context, attrs map[string]interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(attrs)+2)
	if traceID, spanID := extractTraceInfo(ctx); traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID), zap.String("span_id", spanID))
	}
	if len(attrs) > 0 {
		fields = append(fields, zap.Any("attributes", attrs))
	}
	return fields
}

func firstAttrs(attrs []map[string]interface{}) map[string]interface{} {
	if len(attrs) > 0 {
		return attrs[0]
	}
	return nil
}

// Debug logs a debug message
func (l *StructuredLogger) Debug(ctx context.Context, message string, attrs ...map[string]interface{}) {
	l.zl.Debug(message, l.fields(ctx, firstAttrs(attrs))...)
}

// Info logs an info message
func (l *StructuredLogger) Info(ctx context.Context, message string, attrs ...map[string]interface{}) {
	l.zl.Info(message, l.fields(ctx, firstAttrs(attrs))...)
}

// Warn logs a warning message
func (l *StructuredLogger) Warn(ctx context.Context, message string, attrs ...map[string]interface{}) {
	l.zl.Warn(message, l.fields(ctx, firstAttrs(attrs))...)
}

// Error logs an error message
func (l *StructuredLogger) Error(ctx context.Context, message string, err error, attrs ...map[string]interface{}) {
	attributes := make(map[string]interface{})
	for k, v := range firstAttrs(attrs) {
		attributes[k] = v
	}
	if err != nil {
		attributes["error"] = err.Error()
	}
	l.zl.Error(message, l.fields(ctx, attributes)...)
}

// WithComponent creates a new logger with a different component name
func (l *StructuredLogger) WithComponent(component string) *StructuredLogger {
	return newStructuredLogger(l.base, component)
}

// Zap exposes the underlying zap logger for libraries that take one directly
func (l *StructuredLogger) Zap() *zap.Logger {
	return l.zl
}

// Sync flushes buffered log entries
func (l *StructuredLogger) Sync() error {
	return l.zl.Sync()
}

// Logger is the logging surface the session layer depends on.
// *StructuredLogger implements it.
type Logger interface {
	Debug(ctx context.Context, message string, attrs ...map[string]interface{})
	Info(ctx context.Context, message string, attrs ...map[string]interface{})
	Warn(ctx context.Context, message string, attrs ...map[string]interface{})
	Error(ctx context.Context, message string, err error, attrs ...map[string]interface{})
}

var _ Logger = (*StructuredLogger)(nil)
