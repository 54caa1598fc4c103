package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatusCmd creates the status command
func NewStatusCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the local session state without contacting the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := env.open(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Auth.Rehydrate(ctx); err != nil {
				return err
			}

			fmt.Fprintf(env.Out, "API:      %s\n", a.Config.API.Origin)
			fmt.Fprintf(env.Out, "Platform: %s\n", a.Platform)
			fmt.Fprintf(env.Out, "Storage:  %s\n", a.Config.Storage.Backend)

			if _, ok := a.Resolver.Resolve(ctx, a.Augmentor.Origin()); ok {
				fmt.Fprintf(env.Out, "CSRF:     %s\n", successColor.Sprint("token present"))
			} else {
				fmt.Fprintf(env.Out, "CSRF:     %s\n", warningColor.Sprint("no token (run 'cookiesync prime')"))
			}

			if !a.Auth.IsAuthenticated() {
				fmt.Fprintf(env.Out, "Session:  %s\n", warningColor.Sprint("not logged in"))
				return nil
			}

			fmt.Fprintf(env.Out, "Session:  %s\n", successColor.Sprint("logged in"))
			user, err := a.Auth.GetUser(ctx)
			if err != nil {
				return err
			}
			printUser(env.Out, user)
			return nil
		},
	}
}
