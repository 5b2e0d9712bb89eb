package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/bgjobs/pkg/schedule"
)

func newScheduleCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Rollout schedule operations",
	}
	cmd.AddCommand(
		newScheduleCheckCommand(),
		newSchedulePushCommand(a),
	)
	return cmd
}

// readConfiguration decodes and validates a YAML rollout configuration file.
func readConfiguration(path string) (schedule.Configuration, error) {
	var cfg schedule.Configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func newScheduleCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check FILE",
		Short: "Validate a rollout configuration and print the windows in effect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfiguration(args[0])
			if err != nil {
				return err
			}
			s, err := cfg.Schedule(time.Now().UTC())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, w := range s.Windows() {
				fmt.Fprintf(out, "%s  %s  %s\n",
					w.Start.Format("Mon 2006-01-02 15:04"),
					w.End.Format("Mon 2006-01-02 15:04"),
					w.Rate)
			}
			return nil
		},
	}
}

func newSchedulePushCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "push FILE",
		Short: "Store a rollout configuration in Redis and notify running schedulers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfiguration(args[0])
			if err != nil {
				return err
			}
			return a.pushSchedule(cmd.Context(), cfg)
		},
	}
}

func (a *app) pushSchedule(ctx context.Context, cfg schedule.Configuration) error {
	client, err := a.connectRedis(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	src, err := schedule.NewRedisSource(ctx, client, a.cfg.ScheduleRedisKey,
		schedule.WithRedisChannel(a.cfg.ScheduleRedisChannel),
		schedule.WithRedisLogger(a.log),
	)
	if err != nil {
		return err
	}
	if err := src.Store(ctx, cfg); err != nil {
		return err
	}

	a.log.InfoContext(ctx, "schedule stored", slog.String("key", a.cfg.ScheduleRedisKey), slog.Int("windows", len(cfg.Windows)))
	return nil
}
