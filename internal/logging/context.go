package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	runCtxKey      struct{}
	stepCtxKey     struct{}
	instanceCtxKey struct{}
	requestCtxKey  struct{}
	loggerCtxKey   struct{}
)

// maxIDLen caps correlation values copied into every log line.
const maxIDLen = 128

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if v := InstanceFromContext(ctx); v != "" {
		fields = append(fields, zap.String("instance", v))
	}
	if v := RunIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("run.id", v))
	}
	if v := StepIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("step.id", v))
	}
	if v := RequestIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("request.id", v))
	}

	return fields
}

func clip(id string) string {
	if len(id) > maxIDLen {
		return id[:maxIDLen]
	}
	return id
}

func stringValue(ctx context.Context, key any) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// WithRunID tags the context with the pipeline run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, clip(runID))
}

// RunIDFromContext returns the run id, or "".
func RunIDFromContext(ctx context.Context) string { return stringValue(ctx, runCtxKey{}) }

// WithStepID tags the context with the executing step id.
func WithStepID(ctx context.Context, stepID string) context.Context {
	return context.WithValue(ctx, stepCtxKey{}, clip(stepID))
}

// StepIDFromContext returns the step id, or "".
func StepIDFromContext(ctx context.Context) string { return stringValue(ctx, stepCtxKey{}) }

// WithInstance tags the context with the documentation instance name.
func WithInstance(ctx context.Context, instance string) context.Context {
	return context.WithValue(ctx, instanceCtxKey{}, clip(instance))
}

// InstanceFromContext returns the instance name, or "".
func InstanceFromContext(ctx context.Context) string { return stringValue(ctx, instanceCtxKey{}) }

// WithRequestID tags the context with an HTTP request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, clip(requestID))
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string { return stringValue(ctx, requestCtxKey{}) }

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from context, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}
