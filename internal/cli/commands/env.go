package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/branchd-dev/cookiesync/internal/app"
	"github.com/branchd-dev/cookiesync/internal/config"
	"github.com/branchd-dev/cookiesync/internal/guard"
	"github.com/branchd-dev/cookiesync/internal/logger"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Env carries the dependencies commands run with
type Env struct {
	Out io.Writer
	Err io.Writer

	// LoadConfig returns the configuration, config.Load by default
	LoadConfig func() (*config.Config, error)

	// NewLogger builds the logger for a configuration
	NewLogger func(cfg *config.Config) zerolog.Logger

	// ReadPassword prompts for a password; nil reads from the terminal
	ReadPassword func() (string, error)

	// Getenv reads environment variables, os.Getenv by default
	Getenv func(string) string
}

// DefaultEnv returns the environment of the real CLI process
func DefaultEnv() *Env {
	return &Env{
		Out:        os.Stdout,
		Err:        os.Stderr,
		LoadConfig: config.Load,
		NewLogger: func(cfg *config.Config) zerolog.Logger {
			logger.Init(cfg.Logging.Level, cfg.Logging.Format)
			return logger.WithComponent(logger.GetLogger(), "cli")
		},
		Getenv: os.Getenv,
	}
}

// open loads the configuration and wires the application. With start set
// the session is primed and the authentication state restored first.
func (e *Env) open(ctx context.Context, start bool) (*app.App, error) {
	cfg, err := e.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a, err := app.New(ctx, cfg, &navigator{out: e.Err}, e.NewLogger(cfg))
	if err != nil {
		return nil, err
	}

	if start {
		if err := a.Start(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (e *Env) getenv(key string) string {
	if e.Getenv == nil {
		return os.Getenv(key)
	}
	return e.Getenv(key)
}

func (e *Env) readPassword() (string, error) {
	if e.ReadPassword != nil {
		return e.ReadPassword()
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("password is required in non-interactive mode (use --password flag or COOKIESYNC_PASSWORD env var)")
	}

	fmt.Fprint(e.Err, "Password: ")
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(e.Err)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}

// navigator turns route changes into hints for the user
type navigator struct {
	out io.Writer
}

func (n *navigator) Navigate(_ context.Context, path string) error {
	if path == guard.LoginPath {
		warningColor.Fprintln(n.out, "Not logged in. Run 'cookiesync login' first.")
	}
	return nil
}
