package main

import (
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/trezcool/classboard/storage/database"
)

var gooseRunFunc = goose.RunContext // mockable

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "migrate COMMAND [ARGS...]",
		Short:              "Run a goose migration command (up, down, status, create NAME sql, ...)",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Help()
				return errHelp
			}
			return gooseRunFunc(cmd.Context(), args[0], cli.db, database.MigrationsDir, args[1:]...)
		},
	}
}
