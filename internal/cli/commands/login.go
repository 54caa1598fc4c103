package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/branchd-dev/cookiesync/internal/client"
)

// NewLoginCmd creates the login command
func NewLoginCmd(env *Env) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Start an authenticated session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, env, email, password)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set COOKIESYNC_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set COOKIESYNC_PASSWORD, will prompt if not provided)")

	return cmd
}

func runLogin(cmd *cobra.Command, env *Env, email, password string) error {
	// Check for environment variables (useful for CI/CD)
	if email == "" {
		email = env.getenv("COOKIESYNC_EMAIL")
	}
	if password == "" {
		password = env.getenv("COOKIESYNC_PASSWORD")
	}

	if email == "" {
		return errors.New("email is required (use --email flag or COOKIESYNC_EMAIL env var)")
	}

	if password == "" {
		var err error
		if password, err = env.readPassword(); err != nil {
			return err
		}
	}

	a, err := env.open(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	infoColor.Fprintf(env.Out, "Logging in to %s...\n", a.Config.API.Origin)

	data, err := a.Login(cmd.Context(), client.Credentials{Email: email, Password: password})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	successColor.Fprintf(env.Out, "✓ %s\n", data.Message)
	printUser(env.Out, data.User)
	return nil
}
