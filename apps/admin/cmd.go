package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/classboard/core/auth"
	"github.com/trezcool/classboard/core/developer"
	"github.com/trezcool/classboard/core/presence"
	"github.com/trezcool/classboard/core/user"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	db       *sql.DB
	users    *user.Service
	apps     *developer.Service
	sessions *auth.Sessions
	sweeper  *presence.Sweeper
	validate *validator.Validate
	out      io.Writer
	now      func() time.Time
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Classboard administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return errHelp
		},
	}
	root.SetOut(cli.out)
	root.SetErr(cli.out)

	root.AddCommand(
		cli.migrateCmd(),
		cli.appsCmd(),
		cli.usersCmd(),
		cli.sessionTokenCmd(),
		cli.sweepCmd(),
	)
	return root
}

// run executes the command line `args`, program name included.
func (cli *commandLine) run(ctx context.Context, args []string) error {
	root := cli.rootCmd()
	if len(args) > 0 {
		args = args[1:]
	}
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (cli *commandLine) printf(format string, a ...interface{}) {
	_, _ = fmt.Fprintf(cli.out, format, a...)
}

// helpGroup returns a command grouping subcommands. Run alone, it prints its help.
func helpGroup(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return errHelp
		},
	}
}
