package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/branchd-dev/cookiesync/internal/cli/commands"
)

var version = "dev" // Will be set during build

// NewRootCmd builds the command tree around env
func NewRootCmd(env *commands.Env) *cobra.Command {
	var noColor bool

	rootCmd := &cobra.Command{
		Use:   "cookiesync",
		Short: "cookiesync - cookie session client for Sanctum-style APIs",
		Long: `cookiesync keeps a cookie-based API session on this machine.

It primes the CSRF cookie, attaches the token to every mutating request
(as a header on native platforms, as a _token body field on web) and
caches the logged in user between runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(env.Out, "cookiesync version %s\n", version)
		},
	})

	rootCmd.AddCommand(commands.NewLoginCmd(env))
	rootCmd.AddCommand(commands.NewLogoutCmd(env))
	rootCmd.AddCommand(commands.NewHomeCmd(env))
	rootCmd.AddCommand(commands.NewStatusCmd(env))
	rootCmd.AddCommand(commands.NewPrimeCmd(env))
	rootCmd.AddCommand(commands.NewRequestCmd(env))
	rootCmd.AddCommand(commands.NewCookiesCmd(env))

	return rootCmd
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	env := commands.DefaultEnv()
	if err := NewRootCmd(env).ExecuteContext(ctx); err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(env.Err, "✗ Error: %v\n", err)
		return err
	}
	return nil
}
