package tracing

import (
	"context"

	opentracing "github.com/opentracing/opentracing-go"
	opentracinglog "github.com/opentracing/opentracing-go/log"

	"github.com/datatrails/go-servicebus-repro/logger"
	"github.com/datatrails/go-servicebus-repro/spanner"
)

// Span hides the opentracing span behind the spanner.Spanner interface so
// that callers never import opentracing directly.
type Span struct {
	span opentracing.Span
	log  logger.Logger
}

func (s *Span) Close() {
	if s.span != nil {
		s.span.Finish()
		s.span = nil
	}
}

func (s *Span) SetTag(key string, value any) {
	if s.span != nil {
		s.span.SetTag(key, value)
	}
}

func (s *Span) LogField(key string, value any) {
	if s.span == nil {
		return
	}
	switch v := value.(type) {
	case bool:
		s.span.LogFields(opentracinglog.Bool(key, v))
	case error:
		s.span.LogFields(opentracinglog.Error(v))
	case int:
		s.span.LogFields(opentracinglog.Int(key, v))
	case int32:
		s.span.LogFields(opentracinglog.Int32(key, v))
	case int64:
		s.span.LogFields(opentracinglog.Int64(key, v))
	case float64:
		s.span.LogFields(opentracinglog.Float64(key, v))
	case string:
		s.span.LogFields(opentracinglog.String(key, v))
	default:
		s.span.LogFields(opentracinglog.Object(key, v))
	}
}

func (s *Span) carrier() (opentracing.TextMapCarrier, error) {
	carrier := opentracing.TextMapCarrier{}
	err := opentracing.GlobalTracer().Inject(s.span.Context(), opentracing.TextMap, carrier)
	return carrier, err
}

func (s *Span) TraceID() string {
	if s.span == nil {
		return ""
	}
	carrier, err := s.carrier()
	if err != nil {
		return ""
	}
	return carrier[TraceID]
}

// Attributes returns the span context as a string map suitable for message
// application properties.
func (s *Span) Attributes(log logger.Logger) map[string]any {
	attributes := make(map[string]any)
	if s.span == nil {
		return attributes
	}
	carrier, err := s.carrier()
	if err != nil {
		log.Infof("Attributes(): Unable to inject span context: %v", err)
		return attributes
	}
	for k, v := range carrier {
		attributes[k] = v
	}
	return attributes
}

// NewSpanWithAttributes starts a span that is a child of any span context
// found in attributes, e.g. the application properties of a received message.
func NewSpanWithAttributes(ctx context.Context, name string, log logger.Logger, attributes map[string]any) (spanner.Spanner, context.Context) {
	opts := []opentracing.StartSpanOption{}
	carrier := opentracing.TextMapCarrier{}
	for k, v := range attributes {
		// tracing properties are always strings, the tracer ignores the rest
		if value, ok := v.(string); ok {
			carrier.Set(k, value)
		}
	}
	spanCtx, err := opentracing.GlobalTracer().Extract(opentracing.TextMap, carrier)
	if err == nil {
		opts = append(opts, opentracing.ChildOf(spanCtx))
	} else if err != opentracing.ErrSpanContextNotFound {
		log.Infof("NewSpanWithAttributes(): Unable to extract span context: %v", err)
	}
	span := opentracing.StartSpan(name, opts...)
	ctx = opentracing.ContextWithSpan(ctx, span)
	return &Span{span: span, log: log}, ctx
}

func StartSpanFromContext(ctx context.Context, log logger.Logger, name string) (spanner.Spanner, context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, name)
	return &Span{span: span, log: log}, ctx
}
