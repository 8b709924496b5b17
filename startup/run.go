// Package startup runs the console program and its long lived listeners.
package startup

import (
	"os"

	"github.com/datatrails/go-servicebus-repro/environment"
	"github.com/datatrails/go-servicebus-repro/logger"
	"github.com/datatrails/go-servicebus-repro/tracing"
)

type Runner func(logger.Logger) error

// Run initialises logging and tracing, calls run and exits with 1 if run
// failed. Defers do not work in main() because of the os.Exit.
func Run(serviceName string, run Runner) {
	logger.New(environment.GetLogLevel())
	log := logger.Sugar.WithServiceName(serviceName)

	exitCode := func() int {
		closer, err := tracing.NewFromEnv(log, serviceName, "localhost:0", tracing.ZipkinEndpointVar, tracing.DisableZipkinVar)
		if err != nil {
			log.Infof("Error configuring tracing: %v", err)
			return 1
		}
		if closer != nil {
			defer closer.Close()
		}

		if err = run(log); err != nil {
			log.Infof("Error: %v", err)
			return 1
		}
		return 0
	}()

	log.Infof("Shutting down")
	logger.OnExit()

	os.Exit(exitCode)
}
