package cmd

import (
	"fmt"

	"github.com/MrEthical07/authcore"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the storage schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, cleanup, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if err := authcore.Migrate(cmd.Context(), engine.Adapter()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", engine.Config().Storage.Backend)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
