package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewPrimeCmd creates the prime command
func NewPrimeCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "prime",
		Short: "Request a fresh CSRF cookie from the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Bootstrap.Prime(cmd.Context()); err != nil {
				return fmt.Errorf("failed to initialize CSRF protection: %w", err)
			}

			if _, ok := a.Resolver.Resolve(cmd.Context(), a.Augmentor.Origin()); !ok {
				warningColor.Fprintf(env.Out, "! API responded but set no %s cookie\n", a.Resolver.CookieName())
				return nil
			}

			successColor.Fprintln(env.Out, "✓ CSRF protection initialized")
			return nil
		},
	}
}
