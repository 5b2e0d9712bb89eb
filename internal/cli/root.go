// Package cli assembles the bgjobs binary: the queue server, the remote
// executor and the operator commands around them.
package cli

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/bgjobs/pkg/config"
	"github.com/dmitrymomot/bgjobs/pkg/logger"
	"github.com/dmitrymomot/bgjobs/pkg/queue"
	"github.com/dmitrymomot/bgjobs/pkg/requestid"
)

// app carries the state shared by every subcommand once the root has run its setup.
type app struct {
	envFiles  []string
	logLevel  string
	driver    string
	queueName string

	cfg      appConfig
	queueCfg queue.Config
	log      *slog.Logger
}

// NewRootCommand builds the bgjobs command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "bgjobs",
		Short: "Durable background job queue",
		Long: `bgjobs runs a durable job queue with rate-limited promotion of scheduled jobs.

Job Lifecycle:
  scheduled → [promote] → queued → [claim] → processing → completed
                                                 ↓ (failure)
                                        queued (retry) or errored

Commands:
  serve       Run the scheduler, janitor and executor gateway
  executor    Run jobs claimed from a gateway
  enqueue     Add a job to a queue
  stats       Count jobs per state
  migrate     Create or upgrade the store schema
  schedule    Manage the rollout schedule`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "Load environment from these .env files (later files win)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides LOG_LEVEL)")
	root.PersistentFlags().StringVar(&a.driver, "store", "", "Store driver: memory|postgres|sqlite|mongo (overrides STORE_DRIVER)")
	root.PersistentFlags().StringVarP(&a.queueName, "queue", "q", "", "Queue name (overrides QUEUE_NAME)")

	root.AddCommand(
		newServeCommand(a),
		newExecutorCommand(a),
		newEnqueueCommand(a),
		newStatsCommand(a),
		newMigrateCommand(a),
		newScheduleCommand(a),
	)

	return root
}

// setup loads the environment, then the configuration, then builds the logger.
// Flags win over the environment.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := config.LoadEnv(a.envFiles...); err != nil {
		if len(a.envFiles) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	if err := config.ForceReloadConfig(&a.cfg); err != nil {
		return err
	}
	if err := config.ForceReloadConfig(&a.queueCfg); err != nil {
		return err
	}

	if a.logLevel != "" {
		a.cfg.LogLevel = a.logLevel
	}
	if a.driver != "" {
		a.cfg.StoreDriver = a.driver
	}
	if a.queueName != "" {
		a.queueCfg.Queue = a.queueName
	}

	a.log = logger.New(
		logger.WithEnvironment(a.cfg.Env, a.cfg.Name),
		logger.WithLevelName(a.cfg.LogLevel),
		logger.WithOutput(cmd.ErrOrStderr()),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
		logger.WithJobContext(),
	)
	return nil
}
