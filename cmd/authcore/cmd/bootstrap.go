package cmd

import (
	"fmt"
	"os"

	"github.com/MrEthical07/authcore"
	"github.com/spf13/cobra"
)

var (
	adminEmail       string
	adminPasswordEnv string
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Seed the role registry and optionally an administrator",
	Long: `Creates the super role, the default role and the management
permissions if they are missing. With --admin-email an administrator holding
the super role is created too; its password is read from the environment
variable named by --admin-password-env. Running bootstrap twice is safe.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := authcore.BootstrapOptions{AdminEmail: adminEmail}
		if adminEmail != "" {
			opts.AdminPassword = os.Getenv(adminPasswordEnv)
			if opts.AdminPassword == "" {
				return fmt.Errorf("admin password missing: set %s", adminPasswordEnv)
			}
		}

		engine, _, cleanup, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		admin, err := engine.Bootstrap(cmd.Context(), opts)
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "registry seeded")
		if admin != nil {
			fmt.Fprintf(out, "administrator %s (%s)\n", admin.Email, admin.ID)
		}
		return nil
	},
}

func init() {
	bootstrapCmd.Flags().StringVar(&adminEmail, "admin-email", "", "Email of the administrator to create")
	bootstrapCmd.Flags().StringVar(&adminPasswordEnv, "admin-password-env", "AUTHCORE_ADMIN_PASSWORD", "Environment variable holding the administrator password")
	rootCmd.AddCommand(bootstrapCmd)
}
