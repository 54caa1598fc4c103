package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/branchd-dev/cookiesync/internal/authstate"
	"github.com/branchd-dev/cookiesync/internal/client"
	"github.com/branchd-dev/cookiesync/internal/guard"
)

// NewHomeCmd creates the home command: the stored user, then a profile refresh
func NewHomeCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "home",
		Short: "Show the logged in user and refresh the profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.Home(cmd.Context())
			if errors.Is(err, guard.ErrNavigationDenied) {
				return err
			}
			if err != nil {
				return fmt.Errorf("failed to load home: %w", err)
			}

			if view.Stored != nil {
				headerColor.Fprintln(env.Out, "Stored user")
				printUser(env.Out, view.Stored)
			}

			if view.ProfileErr != nil {
				message := view.ProfileErr.Error()
				var apiErr *client.APIError
				if errors.As(view.ProfileErr, &apiErr) {
					message = apiErr.Message
				}
				errorColor.Fprintf(env.Out, "✗ Profile refresh failed: %s\n", message)
				return nil
			}

			headerColor.Fprintln(env.Out, "Profile")
			printUser(env.Out, view.Profile.User)
			successColor.Fprintf(env.Out, "✓ %s\n", view.Profile.Message)
			if !view.Persisted {
				warningColor.Fprintln(env.Out, "  Profile has no id, stored user kept")
			}
			return nil
		},
	}
}

func printUser(w io.Writer, user *authstate.User) {
	if user == nil {
		return
	}

	fmt.Fprintf(w, "  ID:    %d\n", user.ID)
	if user.Name != "" {
		fmt.Fprintf(w, "  Name:  %s\n", user.Name)
	}
	if user.Email != "" {
		fmt.Fprintf(w, "  Email: %s\n", user.Email)
	}

	keys := make([]string, 0, len(user.Extra))
	for key := range user.Extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(w, "  %s: %s\n", key, user.Extra[key])
	}
}
