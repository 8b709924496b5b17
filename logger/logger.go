package logger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	_ "github.com/KimMachineGun/automemlimit"
	opentracing "github.com/opentracing/opentracing-go"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var (
	Plain        *zap.Logger
	Sugar        *WrappedLogger
	Recorded     *observer.ObservedLogs
	undoLogger   = func() {}
	undoMaxProcs = func() {}
)

const (
	serviceNameKey = "servicename"
	// Repeated here to avoid importing the tracing package.
	TraceIDKey = "x-b3-traceid"
)

type WrappedLogger struct {
	*zap.SugaredLogger
}

// keyVals turns positional args into arg0, arg1... pairs for the structured
// variants of the log methods.
func keyVals(args []any) []any {
	kv := make([]any, 0, 2*len(args))
	for i, v := range args {
		kv = append(kv, fmt.Sprintf("arg%d", i), v)
	}
	return kv
}

func (wl *WrappedLogger) InfoR(msg string, args ...any) {
	wl.Desugar().WithOptions(zap.AddCallerSkip(1)).Sugar().Infow(msg, keyVals(args)...)
}

func (wl *WrappedLogger) DebugR(msg string, args ...any) {
	wl.Desugar().WithOptions(zap.AddCallerSkip(1)).Sugar().Debugw(msg, keyVals(args)...)
}

// Resource collects the non zap options accepted by New.
type Resource struct {
	console  bool
	filename string
}

type ResourceOption func(*Resource)

func WithFile(filename string) ResourceOption {
	return func(r *Resource) {
		r.filename = filename
	}
}

func WithConsole() ResourceOption {
	return func(r *Resource) {
		r.console = true
	}
}

func (r *Resource) apply(cfg zap.Config) zap.Config {
	if r.filename != "" {
		cfg.OutputPaths = []string{r.filename}
	}
	if r.console {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zapcore.EncoderConfig{
			MessageKey: "message",
		}
	}
	return cfg
}

// New creates the global plain and sugared loggers for the given level
// ("DEBUG", "NOOP", "TEST", anything else is INFO). Output of the standard
// library logger is redirected to the new logger.
// Both ResourceOption and zap.Option values are accepted; zap options are
// passed through to the zap builder.
func New(level string, opts ...any) {
	r := &Resource{}
	var zopts []zap.Option
	for _, iopt := range opts {
		switch opt := iopt.(type) {
		case ResourceOption:
			opt(r)
		case zap.Option:
			zopts = append(zopts, opt)
		}
	}

	var err error
	switch level {
	case DebugLevel:
		Plain, err = r.apply(zap.NewDevelopmentConfig()).Build(zopts...)

	case NoopLevel:
		Plain = zap.NewNop()

	case TestLevel:
		core, recorded := observer.New(zapcore.DebugLevel)
		Plain = zap.New(core, zopts...)
		Recorded = recorded

	default:
		Plain, err = r.apply(zap.NewProductionConfig()).Build(zopts...)
	}
	if err != nil {
		log.Panicf("cannot initialise zap logger: %v", err)
	}

	undoLogger = zap.RedirectStdLog(Plain)
	Sugar = &WrappedLogger{Plain.Sugar()}

	Sugar.Debugf("Go version %s", runtime.Version())

	// GOMAXPROCS follows the container cpu quota rather than the host core
	// count, otherwise the gc stalls on cores that are not really there.
	undoMaxProcs, err = maxprocs.Set(maxprocs.Logger(Sugar.Debugf))
	if err != nil {
		Sugar.Infof("Error for automaxprocs: %v", err)
		undoMaxProcs = func() {}
	}
	Sugar.Debugf("Cores allocation GOMAXPROCS %v", runtime.GOMAXPROCS(-1))

	// GOMEMLIMIT is set by the automemlimit import (AUTOMEMLIMIT defaults to 0.9).
	Sugar.Debugf("Memory Limit GOMEMLIMIT %v", debug.SetMemoryLimit(-1))
}

// OnExit should be deferred immediately after calling New().
func OnExit() {
	if Sugar != nil {
		_ = Sugar.Sync()
	}
	if Plain != nil {
		_ = Plain.Sync()
	}
	undoMaxProcs()
	undoLogger()
	Recorded = nil
}

// FromContext returns a child logger carrying the trace id of the span in
// ctx, or the receiver itself if ctx has no span.
func (wl *WrappedLogger) FromContext(ctx context.Context) *WrappedLogger {
	span := opentracing.SpanFromContext(ctx)
	if span == nil {
		return wl
	}
	carrier := opentracing.TextMapCarrier{}
	err := opentracing.GlobalTracer().Inject(span.Context(), opentracing.TextMap, carrier)
	if err != nil {
		wl.Debugf("FromContext: can't inject span: %v", err)
		return wl
	}
	traceID, found := carrier[TraceIDKey]
	if !found || traceID == "" {
		return wl
	}
	return &WrappedLogger{
		SugaredLogger: wl.With(zap.String(TraceIDKey, traceID)),
	}
}

func (wl *WrappedLogger) WithServiceName(servicename string) *WrappedLogger {
	return wl.WithIndex(serviceNameKey, servicename)
}

func (wl *WrappedLogger) WithIndex(key, value string) *WrappedLogger {
	return &WrappedLogger{
		SugaredLogger: wl.With(zap.String(key, strings.ToLower(value))),
	}
}

// Close attempts to flush any buffered log entries.
func (wl *WrappedLogger) Close() {
	err := wl.Sync()

	// 'sync /dev/stderr invalid argument' is expected on terminals
	if err != nil && !errors.Is(err, syscall.EINVAL) {
		wl.Debugf("Close: Failed to flush log: %v", err)
	}
}
