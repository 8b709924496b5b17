// Package tracing starts spans for the scenario steps and carries trace
// context across the bus in message application properties.
package tracing

import (
	"io"
	"log"
	"os"

	opentracing "github.com/opentracing/opentracing-go"
	zipkinot "github.com/openzipkin-contrib/zipkin-go-opentracing"
	zipkin "github.com/openzipkin/zipkin-go"
	zipkinhttp "github.com/openzipkin/zipkin-go/reporter/http"

	"github.com/datatrails/go-servicebus-repro/environment"
	"github.com/datatrails/go-servicebus-repro/logger"
)

const (
	prefixTracerState = "x-b3-"
	TraceID           = prefixTracerState + "traceid"

	ZipkinEndpointVar = "ZIPKIN_ENDPOINT"
	DisableZipkinVar  = "DISABLE_ZIPKIN"
)

// NewFromEnv initialises tracing if endpointVar names a zipkin collector and
// disableVar is not truthy. Returns nil when tracing is off, in which case
// the opentracing noop tracer stays in place.
func NewFromEnv(log logger.Logger, service string, host string, endpointVar, disableVar string) (io.Closer, error) {
	ze, ok := os.LookupEnv(endpointVar)
	if !ok || ze == "" {
		log.Debugf("zipkin disabled, '%s' not set", endpointVar)
		return nil, nil
	}
	if environment.GetTruthy(disableVar) {
		log.Infof("'%s' set, zipkin disabled", disableVar)
		return nil, nil
	}
	return New(service, host, ze)
}

// New initialises tracing using the zipkin client tracer.
func New(service string, host string, zipkinEndpoint string) (io.Closer, error) {
	localEndpoint, err := zipkin.NewEndpoint(service, host)
	if err != nil {
		return nil, err
	}

	zipkinLogger := log.New(os.Stdout, "zipkin", log.Ldate|log.Ltime|log.Lmicroseconds|log.Llongfile)
	reporter := zipkinhttp.NewReporter(zipkinEndpoint, zipkinhttp.Logger(zipkinLogger))

	nativeTracer, err := zipkin.NewTracer(
		reporter,
		zipkin.WithLocalEndpoint(localEndpoint),
		zipkin.WithSharedSpans(false),
	)
	if err != nil {
		_ = reporter.Close()
		return nil, err
	}

	opentracing.SetGlobalTracer(zipkinot.Wrap(nativeTracer))
	return reporter, nil
}
