package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		Long: `Apply the embedded migrations for the configured store.

postgres and sqlite run goose migrations; mongo creates the collection indexes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.close()

			if err := store.migrate(cmd.Context()); err != nil {
				return err
			}
			a.log.InfoContext(cmd.Context(), "store is up to date", slog.String("store", a.cfg.StoreDriver))
			return nil
		},
	}
}
