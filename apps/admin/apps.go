package main

import (
	"github.com/spf13/cobra"
)

func (cli *commandLine) appsCmd() *cobra.Command {
	cmd := helpGroup("apps", "Review developer apps")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "approve APP_ID",
			Short: "Approve an app so it can authenticate",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := cli.apps.Approve(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				cli.printf("app %s is %s\n", app.AppID, app.Status)
				return nil
			},
		},
		&cobra.Command{
			Use:   "reject APP_ID",
			Short: "Reject an app; it can no longer authenticate",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := cli.apps.Reject(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				cli.printf("app %s is %s\n", app.AppID, app.Status)
				return nil
			},
		},
	)
	return cmd
}
