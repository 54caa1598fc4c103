// Package cookiejar holds the platform cookie store and the adapters that
// read it the way each platform can.
//
// Jar is a persistent net/http.CookieJar: the API client stores every
// backend Set-Cookie in it and attaches matching cookies to every request.
// Entries live in the key-value store under StorageKey so a session
// survives restarts.
package cookiejar

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"

	"github.com/branchd-dev/cookiesync/internal/storage"
)

// StorageKey is the key the jar persists its entries under
const StorageKey = "cookies"

var errInvalidDomain = errors.New("cookiejar: domain attribute does not match host")

// entry is a stored cookie
type entry struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	HostOnly bool      `json:"host_only"`
	Secure   bool      `json:"secure"`
	HttpOnly bool      `json:"http_only"`
	Expires  time.Time `json:"expires,omitzero"` // zero for session cookies
	Created  time.Time `json:"created"`
}

func (e *entry) id() string {
	return e.Domain + ";" + e.Path + ";" + e.Name
}

func (e *entry) expired(now time.Time) bool {
	return !e.Expires.IsZero() && !now.Before(e.Expires)
}

func (e *entry) matches(u *url.URL, now time.Time) bool {
	if e.expired(now) {
		return false
	}
	if e.Secure && u.Scheme != "https" {
		return false
	}

	host := canonicalHost(u)
	if e.HostOnly {
		if host != e.Domain {
			return false
		}
	} else if host != e.Domain && !strings.HasSuffix(host, "."+e.Domain) {
		return false
	}

	return pathMatch(requestPath(u), e.Path)
}

func (e *entry) cookie() *http.Cookie {
	return &http.Cookie{
		Name:     e.Name,
		Value:    e.Value,
		Domain:   e.Domain,
		Path:     e.Path,
		Secure:   e.Secure,
		HttpOnly: e.HttpOnly,
		Expires:  e.Expires,
	}
}

// Jar is a cookie store persisted in a storage.Store
type Jar struct {
	store storage.Store
	log   zerolog.Logger
	now   func() time.Time

	mu sync.Mutex
}

// New creates a jar persisted in store
func New(store storage.Store, log zerolog.Logger) *Jar {
	return &Jar{
		store: store,
		log:   log.With().Str("component", "cookiejar").Logger(),
		now:   time.Now,
	}
}

func (j *Jar) load(ctx context.Context) ([]entry, error) {
	entries, err := storage.GetJSON[[]entry](ctx, j.store, StorageKey)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		return nil, nil
	}
	return *entries, nil
}

func (j *Jar) save(ctx context.Context, entries []entry) error {
	if len(entries) == 0 {
		return j.store.Remove(ctx, StorageKey)
	}
	return storage.SetJSON(ctx, j.store, StorageKey, entries)
}

// Lookup returns the cookies that would be sent with a request to u,
// longest path first
func (j *Jar) Lookup(ctx context.Context, u *url.URL) ([]*http.Cookie, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.load(ctx)
	if err != nil {
		return nil, err
	}

	now := j.now()
	var selected []entry
	for _, e := range entries {
		if e.matches(u, now) {
			selected = append(selected, e)
		}
	}

	sort.SliceStable(selected, func(a, b int) bool {
		if len(selected[a].Path) != len(selected[b].Path) {
			return len(selected[a].Path) > len(selected[b].Path)
		}
		return selected[a].Created.Before(selected[b].Created)
	})

	cookies := make([]*http.Cookie, 0, len(selected))
	for i := range selected {
		cookies = append(cookies, selected[i].cookie())
	}
	return cookies, nil
}

// All returns every unexpired cookie in the jar
func (j *Jar) All(ctx context.Context) ([]*http.Cookie, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.load(ctx)
	if err != nil {
		return nil, err
	}

	now := j.now()
	cookies := make([]*http.Cookie, 0, len(entries))
	for i := range entries {
		if !entries[i].expired(now) {
			cookies = append(cookies, entries[i].cookie())
		}
	}
	return cookies, nil
}

// Store records cookies received in a response from u. Cookies with a
// past expiry or a negative MaxAge delete the matching entry.
func (j *Jar) Store(ctx context.Context, u *url.URL, cookies []*http.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.load(ctx)
	if err != nil {
		return err
	}

	now := j.now()
	byID := make(map[string]int, len(entries))
	kept := entries[:0]
	for _, e := range entries {
		if e.expired(now) {
			continue
		}
		byID[e.id()] = len(kept)
		kept = append(kept, e)
	}
	entries = kept

	for _, c := range cookies {
		e, remove, err := newEntry(u, c, now)
		if err != nil {
			j.log.Debug().Err(err).Str("cookie", c.Name).Msg("Rejected cookie")
			continue
		}

		idx, exists := byID[e.id()]
		switch {
		case remove && exists:
			entries = append(entries[:idx], entries[idx+1:]...)
			byID = reindex(entries)
		case remove:
		case exists:
			e.Created = entries[idx].Created
			entries[idx] = e
		default:
			byID[e.id()] = len(entries)
			entries = append(entries, e)
		}
	}

	return j.save(ctx, entries)
}

// Clear drops every cookie
func (j *Jar) Clear(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.store.Remove(ctx, StorageKey)
}

// SetCookies implements http.CookieJar. Failures are logged, never returned.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if err := j.Store(context.Background(), u, cookies); err != nil {
		j.log.Warn().Err(err).Str("url", u.Redacted()).Msg("Failed to store cookies")
	}
}

// Cookies implements http.CookieJar. Failures are logged, never returned.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	cookies, err := j.Lookup(context.Background(), u)
	if err != nil {
		j.log.Warn().Err(err).Str("url", u.Redacted()).Msg("Failed to load cookies")
		return nil
	}

	// Only name and value are sent on the wire
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

// newEntry converts a received cookie into an entry. remove is true when
// the cookie deletes a previous value.
func newEntry(u *url.URL, c *http.Cookie, now time.Time) (entry, bool, error) {
	if c.Name == "" {
		return entry{}, false, fmt.Errorf("cookiejar: empty cookie name")
	}

	e := entry{
		Name:     c.Name,
		Value:    c.Value,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
		Created:  now,
	}

	domain, hostOnly, err := cookieDomain(canonicalHost(u), c.Domain)
	if err != nil {
		return entry{}, false, err
	}
	e.Domain, e.HostOnly = domain, hostOnly

	if c.Path == "" || c.Path[0] != '/' {
		e.Path = defaultPath(requestPath(u))
	} else {
		e.Path = c.Path
	}

	switch {
	case c.MaxAge < 0:
		return e, true, nil
	case c.MaxAge > 0:
		e.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
	case !c.Expires.IsZero():
		if !c.Expires.After(now) {
			return e, true, nil
		}
		e.Expires = c.Expires
	}

	return e, false, nil
}

// cookieDomain resolves the Domain attribute against the request host
func cookieDomain(host, attr string) (string, bool, error) {
	if attr == "" {
		return host, true, nil
	}

	if net.ParseIP(host) != nil {
		// IP hosts only accept host-only cookies
		if strings.TrimPrefix(attr, ".") != host {
			return "", false, errInvalidDomain
		}
		return host, true, nil
	}

	domain := strings.ToLower(strings.TrimPrefix(attr, "."))
	if domain == "" {
		return "", false, errInvalidDomain
	}

	// A cookie for a public suffix ("com", "co.uk") would leak across sites
	if suffix, _ := publicsuffix.PublicSuffix(domain); suffix == domain {
		if host == domain {
			return host, true, nil
		}
		return "", false, errInvalidDomain
	}

	if host != domain && !strings.HasSuffix(host, "."+domain) {
		return "", false, errInvalidDomain
	}
	return domain, false, nil
}

func reindex(entries []entry) map[string]int {
	byID := make(map[string]int, len(entries))
	for i := range entries {
		byID[entries[i].id()] = i
	}
	return byID
}

func canonicalHost(u *url.URL) string {
	return strings.ToLower(u.Hostname())
}

func requestPath(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// defaultPath implements RFC 6265 section 5.1.4
func defaultPath(path string) string {
	if path == "" || path[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(path, "/")
	if i == 0 {
		return "/"
	}
	return path[:i]
}

// pathMatch implements RFC 6265 section 5.1.4
func pathMatch(requestPath, cookiePath string) bool {
	if requestPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(requestPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || requestPath[len(cookiePath)] == '/'
}
