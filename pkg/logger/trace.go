package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// FromContext returns the global logger tagged with the span of ctx.
func FromContext(ctx context.Context, fields ...zap.Field) *zap.Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	base := []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
	return zap.L().With(append(base, fields...)...)
}
