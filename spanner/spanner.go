package spanner

import (
	"github.com/datatrails/go-servicebus-repro/logger"
)

// this interface is in a separate package such that azbus and tracing
// packages share the same definition of what StartSpanFromContext and friends return.
type Spanner interface {
	Close()
	SetTag(string, any)
	Attributes(logger.Logger) map[string]any
	LogField(string, any)
	TraceID() string
}
