package main

import (
	"github.com/spf13/cobra"

	"github.com/trezcool/classboard/core"
)

// sessionTokenCmd issues a dashboard session for a user. Interactive login lives outside this service.
func (cli *commandLine) sessionTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session-token USER_ID",
		Short: "Issue a dashboard session token for an active user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			usr, err := cli.users.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !usr.IsActive {
				return core.ErrForbidden
			}
			token, err := cli.sessions.Issue(usr)
			if err != nil {
				return err
			}
			cli.printf("%s\n", token)
			return nil
		},
	}
}
