package commands

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/branchd-dev/cookiesync/internal/augment"
)

// NewRequestCmd creates the request command
func NewRequestCmd(env *Env) *cobra.Command {
	var (
		data   string
		fields []string
		files  []string
	)

	cmd := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "Send an authenticated API request",
		Long: `Send a request to the API with the session cookies and CSRF token attached.

The body is JSON text (--data), a urlencoded form (--form) or, when any
--file is given, a multipart form.`,
		Example: `  cookiesync request GET /user/profile
  cookiesync request POST /posts --data '{"title":"Hello"}'
  cookiesync request PUT /avatar --form caption=me --file avatar=./me.png`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := buildBody(data, fields, files)
			if err != nil {
				return err
			}

			a, err := env.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			req := augment.NewRequest(args[0], a.Client.URL(args[1]), body)
			resp, err := a.Client.Do(cmd.Context(), req)
			if err != nil {
				return err
			}

			successColor.Fprintf(env.Out, "✓ %d\n", resp.StatusCode)
			if len(resp.Body) == 0 {
				return nil
			}
			if gjson.ValidBytes(resp.Body) {
				fmt.Fprint(env.Out, resp.JSON().Get("@pretty").Raw)
				return nil
			}
			fmt.Fprintln(env.Out, string(resp.Body))
			return nil
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "JSON request body")
	cmd.Flags().StringArrayVar(&fields, "form", nil, "Form field as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&files, "file", nil, "Multipart file as field=path (repeatable)")

	return cmd
}

func buildBody(data string, fields, files []string) (any, error) {
	if data != "" && (len(fields) > 0 || len(files) > 0) {
		return nil, errors.New("--data cannot be combined with --form or --file")
	}

	if data != "" {
		if !gjson.Valid(data) {
			return nil, errors.New("--data must be valid JSON")
		}
		return data, nil
	}

	if len(files) > 0 {
		form := augment.NewFormData()
		for _, field := range fields {
			key, value, err := splitPair(field, "--form")
			if err != nil {
				return nil, err
			}
			form.Append(key, value)
		}
		for _, file := range files {
			key, path, err := splitPair(file, "--file")
			if err != nil {
				return nil, err
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
			form.AppendFile(key, filepath.Base(path), "", content)
		}
		return form, nil
	}

	if len(fields) > 0 {
		values := make(url.Values)
		for _, field := range fields {
			key, value, err := splitPair(field, "--form")
			if err != nil {
				return nil, err
			}
			values.Add(key, value)
		}
		return values, nil
	}

	return nil, nil
}

func splitPair(pair, flag string) (string, string, error) {
	key, value, ok := strings.Cut(pair, "=")
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid %s value '%s', expected key=value", flag, pair)
	}
	return key, value, nil
}
