package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchd-dev/cookiesync/internal/augment"
	"github.com/branchd-dev/cookiesync/internal/authstate"
	"github.com/branchd-dev/cookiesync/internal/client"
	"github.com/branchd-dev/cookiesync/internal/config"
	"github.com/branchd-dev/cookiesync/internal/guard"
	"github.com/branchd-dev/cookiesync/internal/sanctumtest"
	"github.com/branchd-dev/cookiesync/internal/storage"
)

type recordingNavigator struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingNavigator) Navigate(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return nil
}

func (r *recordingNavigator) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.paths) == 0 {
		return ""
	}
	return r.paths[len(r.paths)-1]
}

func testConfig(origin, platform string) *config.Config {
	return &config.Config{
		API: config.APIConfig{
			Origin:       origin,
			Key:          "test-key",
			Platform:     platform,
			ExtraHeaders: map[string]string{"ngrok-skip-browser-warning": "true"},
			CSRFCookie:   "XSRF-TOKEN",
			Timeout:      5 * time.Second,
			PrimeWait:    time.Second,
		},
		Storage: config.StorageConfig{Backend: "memory"},
	}
}

func newTestApp(t *testing.T, origin, platform string, store storage.Store) (*App, *recordingNavigator) {
	t.Helper()

	nav := &recordingNavigator{}
	a, err := NewWithStore(testConfig(origin, platform), store, nav, zerolog.Nop())
	require.NoError(t, err)
	return a, nav
}

func newBackend(t *testing.T, opts ...sanctumtest.Option) string {
	t.Helper()

	backend := sanctumtest.New(append([]sanctumtest.Option{sanctumtest.WithAPIKey("test-key")}, opts...)...)
	require.NoError(t, backend.AddUser(7, "A", "a@b.com", "x"))
	return backend.Start(t)
}

func TestScenario_FreshStartRedirectsToLogin(t *testing.T) {
	ctx := context.Background()
	a, nav := newTestApp(t, newBackend(t), "web", storage.NewMemory())
	require.NoError(t, a.Start(ctx))

	assert.False(t, a.Auth.IsAuthenticated())
	assert.Equal(t, guard.Denied, a.Guard.CanActivate(ctx, guard.HomePath))
	assert.Equal(t, guard.LoginPath, nav.last())

	_, err := a.Home(ctx)
	assert.ErrorIs(t, err, guard.ErrNavigationDenied)
}

func TestScenario_LoginAuthenticates(t *testing.T) {
	ctx := context.Background()
	origin := newBackend(t, sanctumtest.WithLoginBody(func(user *sanctumtest.User) any {
		return gin.H{"user": user}
	}))

	for _, platform := range []string{"web", "ios"} {
		t.Run(platform, func(t *testing.T) {
			store := storage.NewMemory()
			a, nav := newTestApp(t, origin, platform, store)
			require.NoError(t, a.Start(ctx))

			updates := a.Auth.Subscribe(ctx)
			assert.False(t, <-updates)

			data, err := a.Login(ctx, client.Credentials{Email: "a@b.com", Password: "x"})
			require.NoError(t, err)
			assert.Equal(t, guard.HomePath, nav.last())
			assert.True(t, <-updates)
			assert.True(t, a.Auth.IsAuthenticated())

			raw, err := store.Get(ctx, authstate.UserKey)
			require.NoError(t, err)
			assert.JSONEq(t, `{"user":{"id":7,"name":"A","email":"a@b.com"},"message":"Login successful"}`, string(raw))
			assert.Equal(t, "Login successful", data.Message)

			assert.Equal(t, guard.Allowed, a.Guard.CanActivate(ctx, guard.HomePath))
		})
	}
}

func TestScenario_WebMergesTokenIntoJSONText(t *testing.T) {
	ctx := context.Background()

	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	a, _ := newTestApp(t, server.URL, "web", storage.NewMemory())
	a.Cookies.SetCookie(ctx, server.URL, "XSRF-TOKEN", "abc%3D123", "/", 0)

	_, err := a.Client.Do(ctx, augment.NewRequest(http.MethodPost, server.URL+"/items", `{"x":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"x":1,"_token":"abc=123"}`, string(received))
}

func TestScenario_LogoutClearsState(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	a, nav := newTestApp(t, newBackend(t), "android", store)
	require.NoError(t, a.Start(ctx))

	_, err := a.Login(ctx, client.Credentials{Email: "a@b.com", Password: "x"})
	require.NoError(t, err)

	require.NoError(t, a.Logout(ctx))
	assert.False(t, a.Auth.IsAuthenticated())
	assert.Equal(t, guard.LoginPath, nav.last())

	_, err = store.Get(ctx, authstate.UserKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Equal(t, guard.Denied, a.Guard.CanActivate(ctx, guard.HomePath))
	assert.Equal(t, guard.LoginPath, nav.last())
}

func TestLogout_ExpiredRemoteSessionStillClearsLocally(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	require.NoError(t, storage.SetJSON(ctx, store, authstate.UserKey, authstate.CompleteUserData{
		User: &authstate.User{ID: 7}, Message: "Login successful",
	}))

	a, _ := newTestApp(t, newBackend(t), "web", store)
	require.NoError(t, a.Start(ctx))
	assert.True(t, a.Auth.IsAuthenticated())

	require.NoError(t, a.Logout(ctx))
	assert.False(t, a.Auth.IsAuthenticated())
}

func TestStart_RehydratesAndPrimes(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	require.NoError(t, storage.SetJSON(ctx, store, authstate.UserKey, authstate.CompleteUserData{
		User: &authstate.User{ID: 7}, Message: "Login successful",
	}))

	origin := newBackend(t)
	a, _ := newTestApp(t, origin, "web", store)
	require.NoError(t, a.Start(ctx))

	assert.True(t, a.Auth.IsAuthenticated())
	assert.True(t, a.Bootstrap.Done())

	token, ok := a.Resolver.Resolve(ctx, origin)
	assert.True(t, ok)
	assert.NotEmpty(t, token)
}

func TestStart_PrimingFailureIsNotFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	a, _ := newTestApp(t, server.URL, "web", storage.NewMemory())
	require.NoError(t, a.Start(context.Background()))
	assert.Error(t, a.Bootstrap.Wait(context.Background()))
}

func TestSessionSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	origin := newBackend(t)
	store := storage.NewFile(t.TempDir() + "/store.json")

	first, _ := newTestApp(t, origin, "web", store)
	require.NoError(t, first.Start(ctx))
	_, err := first.Login(ctx, client.Credentials{Email: "a@b.com", Password: "x"})
	require.NoError(t, err)

	second, _ := newTestApp(t, origin, "web", store)
	require.NoError(t, second.Start(ctx))
	assert.True(t, second.Auth.IsAuthenticated())

	view, err := second.Home(ctx)
	require.NoError(t, err)
	assert.NoError(t, view.ProfileErr)
	assert.True(t, view.Persisted)
	assert.Equal(t, int64(7), view.Stored.ID)
	assert.Equal(t, "Profile loaded successfully", view.Profile.Message)
}

func TestHome_ProfileFailureKeepsUserLoggedIn(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "database down"})
	}))
	defer server.Close()

	store := storage.NewMemory()
	require.NoError(t, storage.SetJSON(ctx, store, authstate.UserKey, authstate.CompleteUserData{
		User: &authstate.User{ID: 7, Name: "A"}, Message: "Login successful",
	}))

	a, _ := newTestApp(t, server.URL, "web", store)
	view, err := a.Home(ctx)
	require.NoError(t, err)

	assert.Equal(t, "A", view.Stored.Name)
	var apiErr *client.APIError
	require.ErrorAs(t, view.ProfileErr, &apiErr)
	assert.Equal(t, "database down", apiErr.Message)
	assert.False(t, view.Persisted)
	assert.True(t, a.Auth.IsAuthenticated())
}

func TestHome_ProfileWithoutIDIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"name":"anonymous"}}`))
	}))
	defer server.Close()

	store := storage.NewMemory()
	original := authstate.CompleteUserData{User: &authstate.User{ID: 7, Name: "A"}, Message: "Login successful"}
	require.NoError(t, storage.SetJSON(ctx, store, authstate.UserKey, original))

	a, _ := newTestApp(t, server.URL, "web", store)
	view, err := a.Home(ctx)
	require.NoError(t, err)
	assert.False(t, view.Persisted)
	assert.Equal(t, "anonymous", view.Profile.User.Name)

	persisted, err := a.Auth.CompleteUserData(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", persisted.User.Name)
}

func TestNewWithStore_InvalidPlatform(t *testing.T) {
	_, err := NewWithStore(testConfig("https://api.example.com", "windows"), storage.NewMemory(), nil, zerolog.Nop())
	assert.Error(t, err)
}
