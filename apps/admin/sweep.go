package main

import (
	"github.com/spf13/cobra"
)

func (cli *commandLine) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one presence sweep now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := cli.sweeper.Tick(cmd.Context(), cli.now())
			if err != nil {
				return err
			}
			cli.printf("%d whiteboard(s) forced offline\n", n)
			return nil
		},
	}
}
