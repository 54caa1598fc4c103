package cookiejar

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/branchd-dev/cookiesync/internal/platform"
)

// Adapter reads and writes cookies the way a platform exposes them to
// application code. Neither method fails: a broken jar reads as empty.
type Adapter interface {
	// GetCookies returns name -> raw value for the cookies visible at rawURL
	GetCookies(ctx context.Context, rawURL string) map[string]string

	// SetCookie writes a script-visible cookie scoped to rawURL's host.
	// expiresSeconds of 0 makes a session cookie, a negative value deletes it.
	SetCookie(ctx context.Context, rawURL, name, value, path string, expiresSeconds int)
}

// ForPlatform returns the adapter matching the execution environment
func ForPlatform(p platform.Context, jar *Jar, log zerolog.Logger) Adapter {
	if p.IsNative {
		return NewNativeAdapter(jar, log)
	}
	return NewDocumentAdapter(jar, log)
}

// NativeAdapter reads the native HTTP cookie store, which sees every
// cookie including HttpOnly ones
type NativeAdapter struct {
	jar *Jar
	log zerolog.Logger
}

func NewNativeAdapter(jar *Jar, log zerolog.Logger) *NativeAdapter {
	return &NativeAdapter{jar: jar, log: log.With().Str("component", "cookies.native").Logger()}
}

func (a *NativeAdapter) GetCookies(ctx context.Context, rawURL string) map[string]string {
	return readCookies(ctx, a.jar, a.log, rawURL, true)
}

func (a *NativeAdapter) SetCookie(ctx context.Context, rawURL, name, value, path string, expiresSeconds int) {
	writeCookie(ctx, a.jar, a.log, rawURL, name, value, path, expiresSeconds)
}

// DocumentAdapter mirrors document.cookie in a browser: HttpOnly cookies
// exist in the jar and are sent by the HTTP layer, but scripts can't read them
type DocumentAdapter struct {
	jar *Jar
	log zerolog.Logger
}

func NewDocumentAdapter(jar *Jar, log zerolog.Logger) *DocumentAdapter {
	return &DocumentAdapter{jar: jar, log: log.With().Str("component", "cookies.document").Logger()}
}

func (a *DocumentAdapter) GetCookies(ctx context.Context, rawURL string) map[string]string {
	return readCookies(ctx, a.jar, a.log, rawURL, false)
}

func (a *DocumentAdapter) SetCookie(ctx context.Context, rawURL, name, value, path string, expiresSeconds int) {
	writeCookie(ctx, a.jar, a.log, rawURL, name, value, path, expiresSeconds)
}

func readCookies(ctx context.Context, jar *Jar, log zerolog.Logger, rawURL string, includeHTTPOnly bool) map[string]string {
	result := make(map[string]string)

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		log.Warn().Err(err).Str("url", rawURL).Msg("Cannot read cookies for invalid URL")
		return result
	}

	cookies, err := jar.Lookup(ctx, u)
	if err != nil {
		log.Warn().Err(err).Str("url", u.Redacted()).Msg("Cookie store unavailable")
		return result
	}

	for _, c := range cookies {
		if c.HttpOnly && !includeHTTPOnly {
			continue
		}
		// Cookies are ordered most specific first; keep the first of each name
		if _, seen := result[c.Name]; !seen {
			result[c.Name] = c.Value
		}
	}
	return result
}

func writeCookie(ctx context.Context, jar *Jar, log zerolog.Logger, rawURL, name, value, path string, expiresSeconds int) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		log.Warn().Err(err).Str("url", rawURL).Msg("Cannot set cookie for invalid URL")
		return
	}

	if path == "" {
		path = "/"
	}

	c := &http.Cookie{Name: name, Value: value, Path: path}
	switch {
	case expiresSeconds < 0:
		c.MaxAge = -1
	case expiresSeconds > 0:
		c.Expires = jar.now().Add(time.Duration(expiresSeconds) * time.Second)
	}

	if err := jar.Store(ctx, u, []*http.Cookie{c}); err != nil {
		log.Warn().Err(err).Str("cookie", name).Msg("Failed to set cookie")
	}
}
