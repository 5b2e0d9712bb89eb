package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/bgjobs/pkg/queue"
)

var allStates = []queue.State{
	queue.StateScheduled,
	queue.StateQueued,
	queue.StateProcessing,
	queue.StateCompleted,
	queue.StateErrored,
}

func newStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count jobs per state in a queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.close()

			counts, err := store.Stats(cmd.Context(), a.queueCfg.Queue)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "QUEUE\tSTATE\tJOBS\n")
			for _, state := range allStates {
				fmt.Fprintf(w, "%s\t%s\t%d\n", a.queueCfg.Queue, state, counts[state])
			}
			return w.Flush()
		},
	}
}
