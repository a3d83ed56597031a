package cmd

import (
	"fmt"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/permission"
	"github.com/spf13/cobra"
)

var (
	checkEmail       string
	checkAction      string
	checkContextID   string
	checkContextType string
	checkRole        string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate a permission query for a user",
	Example: `  authcore check --email ops@example.com --action update --context-type collection --context-id posts
  authcore check --email ops@example.com --action read --context-type configuration --context-id smtp --role editor`,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, cleanup, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		user, err := engine.GetUserByEmail(cmd.Context(), checkEmail)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("no user with email %q", checkEmail)
		}

		d, err := engine.CheckPermission(cmd.Context(), user, authcore.PermissionQuery{
			ContextID:    checkContextID,
			Action:       checkAction,
			ContextType:  checkContextType,
			RequiredRole: checkRole,
		})
		if err != nil {
			return err
		}
		verdict := "denied"
		if d.Permitted() {
			verdict = "allowed"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %s/%s\n", verdict, checkAction, checkContextType, checkContextID)
		if !d.Permitted() {
			return fmt.Errorf("%w: %s may not %s %s/%s", authcore.ErrUnauthorized, checkEmail, checkAction, checkContextType, checkContextID)
		}
		return nil
	},
}

func init() {
	f := checkCmd.Flags()
	f.StringVar(&checkEmail, "email", "", "User email")
	f.StringVar(&checkAction, "action", permission.ActionRead, "Action to check")
	f.StringVar(&checkContextID, "context-id", "", "Resource identifier")
	f.StringVar(&checkContextType, "context-type", permission.ContextCollection, "Resource kind")
	f.StringVar(&checkRole, "role", "", "Additionally require this role")
	_ = checkCmd.MarkFlagRequired("email")
	_ = checkCmd.MarkFlagRequired("context-id")
	rootCmd.AddCommand(checkCmd)
}
