package logging

import (
	"context"

	"go.uber.org/zap"
)

// Context key types
type runCtxKey struct{}
type stepCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	if runID, ok := ctx.Value(runCtxKey{}).(int64); ok {
		fields = append(fields, zap.Int64("run_id", runID))
	}
	if stepID, ok := ctx.Value(stepCtxKey{}).(int64); ok {
		fields = append(fields, zap.Int64("step_id", stepID))
	}
	if requestID, ok := ctx.Value(requestCtxKey{}).(string); ok && requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	return fields
}

// WithRunID tags the context with a protocol run identifier.
func WithRunID(ctx context.Context, runID int64) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// WithStepID tags the context with a step run identifier.
func WithStepID(ctx context.Context, stepID int64) context.Context {
	return context.WithValue(ctx, stepCtxKey{}, stepID)
}

// WithRequestID tags the context with an HTTP request identifier.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from context, or a nop logger if
// none is stored.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
