package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/bgjobs/internal/shell"
	"github.com/dmitrymomot/bgjobs/pkg/logger"
	"github.com/dmitrymomot/bgjobs/pkg/queue"
)

type enqueueFlags struct {
	kind         string
	payload      string
	command      string
	scheduled    bool
	delay        time.Duration
	processAfter string
}

func newEnqueueCommand(a *app) *cobra.Command {
	var f enqueueFlags

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Add a job to a queue",
		Long: `Add a job to a queue and print it as JSON.

Either give a kind and a JSON payload, or --command as a shortcut for a shell job:

  bgjobs enqueue --kind report.build --payload '{"month":"2024-03"}'
  bgjobs enqueue --command 'make backup' --scheduled`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			job, err := a.enqueue(cmd.Context(), f)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(job)
		},
	}
	cmd.Flags().StringVar(&f.kind, "kind", "", "Job kind")
	cmd.Flags().StringVar(&f.payload, "payload", "{}", "JSON payload")
	cmd.Flags().StringVar(&f.command, "command", "", "Shell command; sets kind to \"shell\"")
	cmd.Flags().BoolVar(&f.scheduled, "scheduled", false, "Enqueue as scheduled, subject to the rollout rate")
	cmd.Flags().DurationVar(&f.delay, "delay", 0, "Do not run before now plus this delay")
	cmd.Flags().StringVar(&f.processAfter, "process-after", "", "Do not run before this RFC 3339 time")
	cmd.MarkFlagsMutuallyExclusive("kind", "command")
	cmd.MarkFlagsMutuallyExclusive("payload", "command")
	cmd.MarkFlagsOneRequired("kind", "command")
	cmd.MarkFlagsMutuallyExclusive("delay", "process-after")

	return cmd
}

func (a *app) enqueue(ctx context.Context, f enqueueFlags) (*queue.Job, error) {
	if a.cfg.StoreDriver == DriverMemory {
		return nil, ErrNotPersistent
	}

	kind, payload := f.kind, json.RawMessage(f.payload)
	if f.command != "" {
		raw, err := json.Marshal(shell.Payload{Command: f.command})
		if err != nil {
			return nil, err
		}
		kind, payload = shell.Kind, raw
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, f.payload)
	}

	opts := []queue.EnqueueOption{queue.ToQueue(a.queueCfg.Queue)}
	if f.scheduled {
		opts = append(opts, queue.Scheduled())
	}
	if f.delay > 0 {
		opts = append(opts, queue.WithDelay(f.delay))
	}
	if f.processAfter != "" {
		t, err := time.Parse(time.RFC3339, f.processAfter)
		if err != nil {
			return nil, fmt.Errorf("invalid --process-after: %w", err)
		}
		opts = append(opts, queue.WithProcessAfter(t))
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer store.close()

	enqueuer, err := queue.NewEnqueuer(store)
	if err != nil {
		return nil, err
	}

	job, err := enqueuer.EnqueueRaw(ctx, kind, payload, opts...)
	if err != nil {
		return nil, err
	}

	a.log.InfoContext(ctx, "job enqueued",
		logger.JobID(job.ID),
		logger.Queue(job.Queue),
		logger.Kind(job.Kind),
		logger.State(string(job.State)))

	return job, nil
}
