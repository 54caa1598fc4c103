package commands

import (
	"github.com/spf13/cobra"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Logout(cmd.Context()); err != nil {
				return err
			}

			successColor.Fprintln(env.Out, "✓ Logged out")
			return nil
		},
	}
}
