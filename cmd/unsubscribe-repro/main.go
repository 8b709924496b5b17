// Command unsubscribe-repro checks that a servicebus subscription removed
// while messages are flowing stops receiving them.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/datatrails/go-servicebus-repro/azbus"
	"github.com/datatrails/go-servicebus-repro/environment"
	"github.com/datatrails/go-servicebus-repro/httpserver"
	"github.com/datatrails/go-servicebus-repro/logger"
	"github.com/datatrails/go-servicebus-repro/metrics"
	"github.com/datatrails/go-servicebus-repro/scenario"
	"github.com/datatrails/go-servicebus-repro/startup"
)

const (
	serviceName = "unsubscribe-repro"
)

func main() {
	// A missing .env is fine, the environment may be set up already.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "cannot load .env: %v\n", err)
		os.Exit(1)
	}

	startup.Run(serviceName, func(log logger.Logger) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return newRootCommand(log).ExecuteContext(ctx)
	})
}

func newRootCommand(log logger.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Reproduce delivery to a removed servicebus subscription",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), log)
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Provision the entities and run the scenario (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), log)
			},
		},
		&cobra.Command{
			Use:   "cleanup",
			Short: "Remove the queues, topic and subscriptions the scenario creates",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return cleanup(cmd.Context(), log)
			},
		},
	)
	return root
}

func configure(log logger.Logger) (scenario.Config, error) {
	cfg, err := scenario.NewConfigFromEnv()
	if err != nil {
		return cfg, err
	}
	if environment.GetLogLevel() == logger.DebugLevel {
		azbus.EnableAzureLogging(log, environment.GetTruthy("AZURE_SDK_VERBOSE"))
	}
	return cfg, nil
}

func run(ctx context.Context, log logger.Logger) error {
	cfg, err := configure(log)
	if err != nil {
		return err
	}

	m := metrics.New(log)
	opts := []scenario.Option{scenario.WithMetrics(m)}
	if cfg.MetricsPort != "" {
		opts = append(opts, scenario.WithListener(httpserver.New(log, "metrics", cfg.MetricsPort, m.Handler())))
	}

	report, err := scenario.New(log, cfg, opts...).Run(ctx)
	log.Infof("%s received %d, %s received %d", cfg.Subscriber1, report.Subscriber1, cfg.Subscriber2, report.Subscriber2)
	return err
}

func cleanup(ctx context.Context, log logger.Logger) error {
	cfg, err := configure(log)
	if err != nil {
		return err
	}
	return scenario.New(log, cfg).Cleanup(ctx)
}
