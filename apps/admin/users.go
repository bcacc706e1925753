package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/trezcool/classboard/core/user"
)

func (cli *commandLine) usersCmd() *cobra.Command {
	var nu user.NewUser

	create := &cobra.Command{
		Use:   "create",
		Short: "Create an active user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for i, role := range nu.Roles {
				if !strings.HasSuffix(role, ":") {
					nu.Roles[i] = role + ":"
				}
			}
			if err := nu.Validate(cli.validate); err != nil {
				return err
			}
			usr, err := cli.users.Create(cmd.Context(), nu)
			if err != nil {
				return err
			}
			cli.printf("user %s created: %s\n", usr.Username, usr.ID)
			return nil
		},
	}
	create.Flags().StringVar(&nu.Name, "name", "", "full name (required)")
	create.Flags().StringVar(&nu.Username, "username", "", "username (required)")
	create.Flags().StringVar(&nu.Email, "email", "", "email")
	create.Flags().StringSliceVar(&nu.Roles, "roles", nil, "roles, eg. teacher,developer")

	cmd := helpGroup("users", "Manage users")
	cmd.AddCommand(create)
	return cmd
}
