package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewCookiesCmd creates the cookies command group
func NewCookiesCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cookies",
		Short: "Inspect and edit the cookie jar",
	}

	cmd.AddCommand(newCookiesListCmd(env))
	cmd.AddCommand(newCookiesSetCmd(env))
	cmd.AddCommand(newCookiesClearCmd(env))

	return cmd
}

func newCookiesListCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored cookies",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			cookies, err := a.Jar.All(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read cookies: %w", err)
			}

			if len(cookies) == 0 {
				fmt.Fprintln(env.Out, "No cookies stored.")
				fmt.Fprintln(env.Out, "\nRequest a session with: cookiesync prime")
				return nil
			}

			w := tabwriter.NewWriter(env.Out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVALUE\tDOMAIN\tPATH\tHTTPONLY\tEXPIRES")
			fmt.Fprintln(w, "────\t─────\t──────\t────\t────────\t───────")

			for _, c := range cookies {
				expires := "session"
				if !c.Expires.IsZero() {
					expires = c.Expires.Local().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
					c.Name,
					truncate(c.Value, 32),
					c.Domain,
					c.Path,
					c.HttpOnly,
					expires,
				)
			}

			return w.Flush()
		},
	}
}

func newCookiesSetCmd(env *Env) *cobra.Command {
	var (
		path   string
		maxAge int
	)

	cmd := &cobra.Command{
		Use:   "set NAME VALUE",
		Short: "Set a cookie for the API origin the way the current platform can",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			a.Cookies.SetCookie(cmd.Context(), a.Augmentor.Origin(), args[0], args[1], path, maxAge)

			successColor.Fprintf(env.Out, "✓ Cookie %s updated\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "/", "Cookie path")
	cmd.Flags().IntVar(&maxAge, "max-age", 0, "Lifetime in seconds (0 for a session cookie, negative deletes)")

	return cmd
}

func newCookiesClearCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every stored cookie",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Jar.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear cookies: %w", err)
			}

			successColor.Fprintln(env.Out, "✓ Cookies cleared")
			return nil
		},
	}
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "…"
}
