package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchd-dev/cookiesync/internal/cli/commands"
	"github.com/branchd-dev/cookiesync/internal/config"
	"github.com/branchd-dev/cookiesync/internal/guard"
	"github.com/branchd-dev/cookiesync/internal/sanctumtest"
)

type harness struct {
	out, err *bytes.Buffer
	env      *commands.Env
}

func newHarness(t *testing.T, platform string, vars map[string]string) *harness {
	t.Helper()

	backend := sanctumtest.New(sanctumtest.WithAPIKey("cli-key"))
	require.NoError(t, backend.AddUser(7, "A", "a@b.com", "x"))
	origin := backend.Start(t)
	storePath := filepath.Join(t.TempDir(), "store.json")

	h := &harness{out: &bytes.Buffer{}, err: &bytes.Buffer{}}
	h.env = &commands.Env{
		Out: h.out,
		Err: h.err,
		LoadConfig: func() (*config.Config, error) {
			return &config.Config{
				API: config.APIConfig{
					Origin:     origin,
					Key:        "cli-key",
					Platform:   platform,
					CSRFCookie: "XSRF-TOKEN",
					Timeout:    5 * time.Second,
					PrimeWait:  time.Second,
				},
				Storage: config.StorageConfig{Backend: "file", Path: storePath},
			}, nil
		},
		NewLogger: func(*config.Config) zerolog.Logger { return zerolog.Nop() },
		ReadPassword: func() (string, error) {
			return "", errors.New("password is required in non-interactive mode")
		},
		Getenv: func(key string) string { return vars[key] },
	}
	return h
}

func (h *harness) run(args ...string) error {
	h.out.Reset()
	h.err.Reset()

	cmd := NewRootCmd(h.env)
	cmd.SetArgs(append([]string{"--no-color"}, args...))
	return cmd.ExecuteContext(context.Background())
}

func TestRootCommandStructure(t *testing.T) {
	cmd := NewRootCmd(commands.DefaultEnv())

	expected := []string{"version", "login", "logout", "home", "status", "prime", "request", "cookies"}
	actual := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		actual[sub.Name()] = true
	}
	for _, name := range expected {
		assert.True(t, actual[name], "missing command: %s", name)
	}

	assert.NotNil(t, cmd.PersistentFlags().Lookup("no-color"))
}

func TestVersion(t *testing.T) {
	h := newHarness(t, "web", nil)
	require.NoError(t, h.run("version"))
	assert.Equal(t, "cookiesync version dev\n", h.out.String())
}

func TestSessionLifecycle(t *testing.T) {
	for _, platform := range []string{"web", "android"} {
		t.Run(platform, func(t *testing.T) {
			h := newHarness(t, platform, map[string]string{
				"COOKIESYNC_EMAIL":    "a@b.com",
				"COOKIESYNC_PASSWORD": "x",
			})

			err := h.run("home")
			assert.ErrorIs(t, err, guard.ErrNavigationDenied)
			assert.Contains(t, h.err.String(), "cookiesync login")

			require.NoError(t, h.run("login"))
			assert.Contains(t, h.out.String(), "✓ Welcome back")
			assert.Contains(t, h.out.String(), "Email: a@b.com")

			require.NoError(t, h.run("status"))
			assert.Contains(t, h.out.String(), "Session:  logged in")
			assert.Contains(t, h.out.String(), "token present")
			assert.Contains(t, h.out.String(), "Platform: "+platform)

			require.NoError(t, h.run("home"))
			assert.Contains(t, h.out.String(), "Stored user")
			assert.Contains(t, h.out.String(), "✓ Profile loaded successfully")

			require.NoError(t, h.run("request", "POST", "/echo", "--data", `{"x":1}`))
			assert.Contains(t, h.out.String(), "✓ 200")
			source := "body"
			if platform == "android" {
				source = "header"
			}
			assert.Contains(t, h.out.String(), `"token_source": "`+source+`"`)

			require.NoError(t, h.run("request", "PATCH", "/echo", "--form", "title=hello"))
			assert.Contains(t, h.out.String(), `"method": "PATCH"`)

			require.NoError(t, h.run("cookies", "list"))
			assert.Contains(t, h.out.String(), "XSRF-TOKEN")
			assert.Contains(t, h.out.String(), sanctumtest.SessionCookie)

			require.NoError(t, h.run("logout"))
			assert.Contains(t, h.out.String(), "✓ Logged out")

			require.NoError(t, h.run("status"))
			assert.Contains(t, h.out.String(), "Session:  not logged in")
		})
	}
}

func TestLogin_Errors(t *testing.T) {
	t.Run("missing email", func(t *testing.T) {
		h := newHarness(t, "web", nil)
		err := h.run("login")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "email is required")
	})

	t.Run("no password in non-interactive mode", func(t *testing.T) {
		h := newHarness(t, "web", nil)
		err := h.run("login", "--email", "a@b.com")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-interactive")
	})

	t.Run("wrong password", func(t *testing.T) {
		h := newHarness(t, "ios", nil)
		err := h.run("login", "--email", "a@b.com", "--password", "wrong")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Invalid email or password")

		require.NoError(t, h.run("status"))
		assert.Contains(t, h.out.String(), "not logged in")
	})
}

func TestPrimeAndCookies(t *testing.T) {
	h := newHarness(t, "web", nil)

	require.NoError(t, h.run("cookies", "list"))
	assert.Contains(t, h.out.String(), "No cookies stored.")

	require.NoError(t, h.run("prime"))
	assert.Contains(t, h.out.String(), "✓ CSRF protection initialized")

	require.NoError(t, h.run("cookies", "set", "theme", "dark"))
	require.NoError(t, h.run("cookies", "list"))
	assert.Contains(t, h.out.String(), "theme")
	assert.Contains(t, h.out.String(), "dark")

	require.NoError(t, h.run("cookies", "clear"))
	require.NoError(t, h.run("status"))
	assert.Contains(t, h.out.String(), "no token")
}

func TestRequest_InvalidInput(t *testing.T) {
	h := newHarness(t, "web", nil)

	assert.Error(t, h.run("request", "GET"))
	assert.Error(t, h.run("request", "POST", "/echo", "--data", "{not json"))
	assert.Error(t, h.run("request", "POST", "/echo", "--data", "{}", "--form", "a=b"))
	assert.Error(t, h.run("request", "POST", "/echo", "--form", "novalue"))
}
