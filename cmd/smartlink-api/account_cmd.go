package main

import (
	"github.com/spf13/cobra"
)

func newAccountCommand() *cobra.Command {
	accountCmd := &cobra.Command{
		Use:   "account",
		Short: "Manage SmartLink accounts",
	}

	accountCmd.AddCommand(&cobra.Command{
		Use:   "plan <user-id> <free|pro>",
		Short: "Change the plan of an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := openComponents(cmd.Context())
			if err != nil {
				return err
			}
			defer built.Close()
			account, err := built.accounts.SetPlan(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return writeJSON(cmd, map[string]interface{}{
				"userId":          account.UserID,
				"plan":            account.Plan,
				"smartlinksCount": account.SmartLinkCount,
			})
		},
	})

	return accountCmd
}
