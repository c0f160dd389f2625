package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tg-ingest/internal/server"
)

// newMigrateCmd creates the core tables when absent.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the datastore tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			ds, closeStore, err := server.OpenDatastore(cmd.Context(), e.cfg.Database, e.logger)
			if err != nil {
				return err
			}
			defer closeStore()
			if err := ds.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s datastore\n", e.cfg.Database.Driver)
			return nil
		},
	}
}
