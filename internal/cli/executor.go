package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/bgjobs/pkg/config"
	"github.com/dmitrymomot/bgjobs/pkg/gateway"
	"github.com/dmitrymomot/bgjobs/pkg/logger"
	"github.com/dmitrymomot/bgjobs/pkg/metrics"
	"github.com/dmitrymomot/bgjobs/pkg/routine"
)

func newExecutorCommand(a *app) *cobra.Command {
	var gatewayURL string

	cmd := &cobra.Command{
		Use:   "executor",
		Short: "Run shell jobs claimed from a bgjobs gateway",
		Long: `Run an executor: claim jobs of one queue from the gateway served by
"bgjobs serve", run them as shell commands and report the outcome.

The gateway URL points at the queues mount, e.g. http://jobs.internal:8080/queues.`,
		Aliases: []string{"agent"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return a.execute(ctx, gatewayURL)
		},
	}
	cmd.Flags().StringVar(&gatewayURL, "gateway", "", "Gateway base URL (overrides GATEWAY_URL)")

	return cmd
}

func (a *app) execute(ctx context.Context, gatewayURL string) error {
	var cfg gateway.Config
	if err := config.ForceReloadConfig(&cfg); err != nil {
		return err
	}
	if gatewayURL != "" {
		cfg.URL = gatewayURL
	}
	if cfg.URL == "" {
		return ErrMissingGatewayURL
	}

	client, err := gateway.NewClient(cfg.URL, a.queueCfg.Queue, cfg.ClientOptions()...)
	if err != nil {
		return err
	}

	observer, err := metrics.NewGlobalObserver()
	if err != nil {
		return err
	}

	worker, err := a.shellWorker(client, observer)
	if err != nil {
		return err
	}

	a.log.InfoContext(ctx, "executor started",
		logger.Queue(a.queueCfg.Queue),
		slog.String("gateway", cfg.URL),
		slog.Int("concurrency", a.queueCfg.Concurrency))

	return routine.Run(ctx, worker)
}
