package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var purgeJSON bool

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired sessions and tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, cleanup, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := engine.Purge(cmd.Context())
		if err != nil {
			return fmt.Errorf("purge: %w", err)
		}
		if purgeJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d sessions, %d tokens\n", res.Sessions, res.Tokens)
		return nil
	},
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeJSON, "json", false, "Output counts as JSON")
	rootCmd.AddCommand(purgeCmd)
}
