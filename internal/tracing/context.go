package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type runIDKey struct{}

type extensionKey struct{}

// NewRunID returns the identifier of one initialization pass
func NewRunID() string {
	return uuid.NewString()
}

// WithRunID tags ctx with the initialization pass it belongs to
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID returns the pass ID carried by ctx
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// WithExtension tags ctx with the extension whose entry point is running
func WithExtension(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, extensionKey{}, name)
}

// Extension returns the extension name carried by ctx
func Extension(ctx context.Context) string {
	name, _ := ctx.Value(extensionKey{}).(string)
	return name
}

// TraceID returns the trace ID of the span on ctx, or "" without a valid span
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// LoggerFromContext adds the pass, extension and trace fields found on ctx
// to logger
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	c := logger.With()
	if id := RunID(ctx); id != "" {
		c = c.Str("run_id", id)
	}
	if name := Extension(ctx); name != "" {
		c = c.Str("extension", name)
	}
	if id := TraceID(ctx); id != "" {
		c = c.Str("trace_id", id)
	}
	return c.Logger()
}
