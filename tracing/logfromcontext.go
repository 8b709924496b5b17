package tracing

import (
	"context"

	opentracing "github.com/opentracing/opentracing-go"

	"github.com/datatrails/go-servicebus-repro/logger"
)

// LogFromContext returns log with the trace ID of the current span added, or
// log itself when ctx carries no span.
func LogFromContext(ctx context.Context, log logger.Logger) logger.Logger {
	traceID := TraceIDFromContext(ctx)
	if traceID != "" {
		return log.WithIndex(TraceID, traceID)
	}
	return log
}

func TraceIDFromContext(ctx context.Context) string {
	span := opentracing.SpanFromContext(ctx)
	if span == nil {
		return ""
	}
	carrier := opentracing.TextMapCarrier{}
	err := opentracing.GlobalTracer().Inject(span.Context(), opentracing.TextMap, carrier)
	if err != nil {
		return ""
	}
	return carrier[TraceID]
}
