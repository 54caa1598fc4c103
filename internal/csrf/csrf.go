// Package csrf resolves the double-submit CSRF token from the cookie jar.
//
// A request scope (WithRequestScope) remembers misses so callers that
// resolve more than once while preparing one request query the jar once.
// The API client opens the scope per dispatched request and the augmentor
// joins it.
package csrf

import (
	"context"
	"net/url"
	"sync"

	"github.com/rs/zerolog"

	"github.com/branchd-dev/cookiesync/internal/cookiejar"
)

const (
	// CookieName is the cookie the backend stores the CSRF token in.
	// Its value is URL-encoded.
	CookieName = "XSRF-TOKEN"

	// HeaderName carries the token on native platforms
	HeaderName = "X-XSRF-TOKEN"

	// BodyField carries the token inside the request body on web
	BodyField = "_token"
)

// Resolver extracts the CSRF token from the cookies visible at a URL
type Resolver struct {
	cookies    cookiejar.Adapter
	cookieName string
	log        zerolog.Logger
}

// NewResolver creates a resolver reading cookieName (CookieName when empty)
func NewResolver(cookies cookiejar.Adapter, cookieName string, log zerolog.Logger) *Resolver {
	if cookieName == "" {
		cookieName = CookieName
	}
	return &Resolver{
		cookies:    cookies,
		cookieName: cookieName,
		log:        log.With().Str("component", "csrf").Logger(),
	}
}

// CookieName returns the cookie the resolver looks for
func (r *Resolver) CookieName() string {
	return r.cookieName
}

// Resolve returns the URL-decoded token for rawURL. ok is false when the
// cookie is absent, empty or not valid percent-encoding. It never fails.
//
// Within a request scope (see WithRequestScope) a miss is remembered so the
// jar is queried at most once per URL.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (token string, ok bool) {
	s := scopeFrom(ctx)
	if s != nil && s.missed(rawURL) {
		return "", false
	}

	for name, value := range r.cookies.GetCookies(ctx, rawURL) {
		if name != r.cookieName || value == "" {
			continue
		}

		decoded, err := url.PathUnescape(value)
		if err != nil {
			r.log.Warn().Err(err).Str("cookie", r.cookieName).Msg("CSRF cookie could not be decoded")
			break
		}
		return decoded, true
	}

	if s != nil {
		s.recordMiss(rawURL)
	}
	r.log.Debug().Str("cookie", r.cookieName).Msg("CSRF token not found in cookies")
	return "", false
}

type scopeKeyType struct{}

var scopeKey = scopeKeyType{}

type scope struct {
	mu     sync.Mutex
	misses map[string]struct{}
}

func (s *scope) missed(rawURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.misses[rawURL]
	return ok
}

func (s *scope) recordMiss(rawURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.misses[rawURL] = struct{}{}
}

// WithRequestScope returns a context that memoises "not found" outcomes
// for the lifetime of a single request
func WithRequestScope(ctx context.Context) context.Context {
	if scopeFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, scopeKey, &scope{misses: make(map[string]struct{})})
}

func scopeFrom(ctx context.Context) *scope {
	s, _ := ctx.Value(scopeKey).(*scope)
	return s
}
