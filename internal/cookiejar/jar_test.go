package cookiejar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchd-dev/cookiesync/internal/platform"
	"github.com/branchd-dev/cookiesync/internal/storage"
)

var errBroken = errors.New("disk on fire")

// brokenStore fails every operation
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errBroken }
func (brokenStore) Set(context.Context, string, []byte) error   { return errBroken }
func (brokenStore) Remove(context.Context, string) error        { return errBroken }
func (brokenStore) Clear(context.Context) error                 { return errBroken }
func (brokenStore) Keys(context.Context) ([]string, error)      { return nil, errBroken }
func (brokenStore) Close() error                                { return nil }

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func newTestJar(t *testing.T) (*Jar, *time.Time) {
	t.Helper()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	jar := New(storage.NewMemory(), zerolog.Nop())
	jar.now = func() time.Time { return now }
	return jar, &now
}

func TestJar_StoreAndLookup(t *testing.T) {
	ctx := context.Background()
	jar, _ := newTestJar(t)
	api := mustParse(t, "https://api.example.com/sanctum/csrf-cookie")

	require.NoError(t, jar.Store(ctx, api, []*http.Cookie{
		{Name: "XSRF-TOKEN", Value: "abc%3D123", Path: "/"},
		{Name: "laravel_session", Value: "s3cr3t", Path: "/", HttpOnly: true},
	}))

	cookies, err := jar.Lookup(ctx, mustParse(t, "https://api.example.com/auth/login"))
	require.NoError(t, err)
	require.Len(t, cookies, 2)
	assert.Equal(t, "XSRF-TOKEN", cookies[0].Name)
	assert.Equal(t, "abc%3D123", cookies[0].Value)
	assert.True(t, cookies[1].HttpOnly)

	// Host-only cookies are not sent to other hosts
	cookies, err = jar.Lookup(ctx, mustParse(t, "https://other.example.com/"))
	require.NoError(t, err)
	assert.Empty(t, cookies)
}

func TestJar_DomainCookies(t *testing.T) {
	ctx := context.Background()
	jar, _ := newTestJar(t)

	require.NoError(t, jar.Store(ctx, mustParse(t, "https://api.example.com/"), []*http.Cookie{
		{Name: "shared", Value: "1", Domain: ".example.com", Path: "/"},
		{Name: "public", Value: "1", Domain: "com", Path: "/"},
		{Name: "foreign", Value: "1", Domain: "example.org", Path: "/"},
	}))

	cookies, err := jar.Lookup(ctx, mustParse(t, "https://www.example.com/"))
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "shared", cookies[0].Name)
}

func TestJar_PathAndSecure(t *testing.T) {
	ctx := context.Background()
	jar, _ := newTestJar(t)

	require.NoError(t, jar.Store(ctx, mustParse(t, "https://api.example.com/auth/login"), []*http.Cookie{
		{Name: "scoped", Value: "auth"},
		{Name: "root", Value: "all", Path: "/"},
		{Name: "tls", Value: "only", Path: "/", Secure: true},
	}))

	cookies, err := jar.Lookup(ctx, mustParse(t, "https://api.example.com/auth/logout"))
	require.NoError(t, err)
	names := cookieNames(cookies)
	assert.Equal(t, []string{"scoped", "root", "tls"}, names, "longest path first")

	cookies, err = jar.Lookup(ctx, mustParse(t, "http://api.example.com/user/profile"))
	require.NoError(t, err)
	assert.Equal(t, []string{"root"}, cookieNames(cookies))
}

func TestJar_ExpiryAndDeletion(t *testing.T) {
	ctx := context.Background()
	jar, now := newTestJar(t)
	api := mustParse(t, "https://api.example.com/")

	require.NoError(t, jar.Store(ctx, api, []*http.Cookie{
		{Name: "short", Value: "1", Path: "/", MaxAge: 60},
		{Name: "gone", Value: "1", Path: "/"},
	}))

	require.NoError(t, jar.Store(ctx, api, []*http.Cookie{
		{Name: "gone", Value: "", Path: "/", MaxAge: -1},
	}))

	cookies, err := jar.Lookup(ctx, api)
	require.NoError(t, err)
	assert.Equal(t, []string{"short"}, cookieNames(cookies))

	*now = now.Add(2 * time.Minute)
	cookies, err = jar.Lookup(ctx, api)
	require.NoError(t, err)
	assert.Empty(t, cookies)
}

func TestJar_ReplacesSameCookie(t *testing.T) {
	ctx := context.Background()
	jar, _ := newTestJar(t)
	api := mustParse(t, "https://api.example.com/")

	require.NoError(t, jar.Store(ctx, api, []*http.Cookie{{Name: "XSRF-TOKEN", Value: "old", Path: "/"}}))
	require.NoError(t, jar.Store(ctx, api, []*http.Cookie{{Name: "XSRF-TOKEN", Value: "new", Path: "/"}}))

	all, err := jar.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].Value)
}

func TestJar_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	api := mustParse(t, "https://api.example.com/")

	require.NoError(t, New(store, zerolog.Nop()).Store(ctx, api, []*http.Cookie{{Name: "XSRF-TOKEN", Value: "v", Path: "/"}}))

	cookies, err := New(store, zerolog.Nop()).Lookup(ctx, api)
	require.NoError(t, err)
	assert.Equal(t, []string{"XSRF-TOKEN"}, cookieNames(cookies))
}

func TestJar_WithHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/set" {
			http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: "tok", Path: "/"})
			return
		}
		c, err := r.Cookie("XSRF-TOKEN")
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(c.Value))
	}))
	defer srv.Close()

	jar := New(storage.NewMemory(), zerolog.Nop())
	client := &http.Client{Jar: jar}

	resp, err := client.Get(srv.URL + "/set")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = client.Get(srv.URL + "/check")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJar_BrokenStoreIsSwallowed(t *testing.T) {
	jar := New(brokenStore{}, zerolog.Nop())
	u := mustParse(t, "https://api.example.com/")

	assert.NotPanics(t, func() {
		jar.SetCookies(u, []*http.Cookie{{Name: "a", Value: "b"}})
	})
	assert.Empty(t, jar.Cookies(u))
}

func TestAdapters_Visibility(t *testing.T) {
	ctx := context.Background()
	jar, _ := newTestJar(t)
	api := "https://api.example.com"

	require.NoError(t, jar.Store(ctx, mustParse(t, api+"/"), []*http.Cookie{
		{Name: "XSRF-TOKEN", Value: "abc%3D123", Path: "/"},
		{Name: "laravel_session", Value: "s3cr3t", Path: "/", HttpOnly: true},
	}))

	native := ForPlatform(platform.Context{IsNative: true, Name: platform.IOS}, jar, zerolog.Nop())
	assert.IsType(t, &NativeAdapter{}, native)
	assert.Equal(t, map[string]string{
		"XSRF-TOKEN":      "abc%3D123",
		"laravel_session": "s3cr3t",
	}, native.GetCookies(ctx, api))

	document := ForPlatform(platform.Context{Name: platform.Web}, jar, zerolog.Nop())
	assert.IsType(t, &DocumentAdapter{}, document)
	assert.Equal(t, map[string]string{"XSRF-TOKEN": "abc%3D123"}, document.GetCookies(ctx, api))
}

func TestAdapters_SetCookie(t *testing.T) {
	ctx := context.Background()
	jar, now := newTestJar(t)
	adapter := NewDocumentAdapter(jar, zerolog.Nop())
	api := "https://api.example.com"

	adapter.SetCookie(ctx, api, "XSRF-TOKEN", "mirrored", "", 60)
	assert.Equal(t, map[string]string{"XSRF-TOKEN": "mirrored"}, adapter.GetCookies(ctx, api))

	*now = now.Add(time.Hour)
	assert.Empty(t, adapter.GetCookies(ctx, api))

	adapter.SetCookie(ctx, api, "session", "1", "/", 0)
	adapter.SetCookie(ctx, api, "session", "", "/", -1)
	assert.Empty(t, adapter.GetCookies(ctx, api))
}

func TestAdapters_NeverFail(t *testing.T) {
	ctx := context.Background()
	jar := New(brokenStore{}, zerolog.Nop())

	for _, adapter := range []Adapter{NewNativeAdapter(jar, zerolog.Nop()), NewDocumentAdapter(jar, zerolog.Nop())} {
		cookies := adapter.GetCookies(ctx, "https://api.example.com")
		assert.NotNil(t, cookies)
		assert.Empty(t, cookies)

		assert.Empty(t, adapter.GetCookies(ctx, "::not a url"))
		assert.NotPanics(t, func() {
			adapter.SetCookie(ctx, "https://api.example.com", "a", "b", "/", 0)
		})
	}
}

func TestPathMatch(t *testing.T) {
	tests := []struct {
		request, cookie string
		want            bool
	}{
		{"/", "/", true},
		{"/auth/login", "/auth", true},
		{"/auth/login", "/auth/", true},
		{"/authx", "/auth", false},
		{"/", "/auth", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, pathMatch(tt.request, tt.cookie), "%s vs %s", tt.request, tt.cookie)
	}
}

func cookieNames(cookies []*http.Cookie) []string {
	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	return names
}
