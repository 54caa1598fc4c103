// Package augment decides, per outgoing request, which authentication and
// CSRF material to attach.
//
// Every request to the API origin gets the identification and content
// negotiation headers and always carries cookies. Mutating requests also
// carry the CSRF token: as the X-XSRF-TOKEN header on native platforms, or
// as a _token body field on web, where custom CSRF headers may be stripped
// by proxies in front of the webview.
package augment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/branchd-dev/cookiesync/internal/csrf"
	"github.com/branchd-dev/cookiesync/internal/platform"
)

const (
	// APIKeyHeader identifies the application to the backend
	APIKeyHeader = "X-API-Key"

	defaultReadyTimeout = 5 * time.Second
)

var mutatingMethods = map[string]bool{
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"DELETE": true,
}

// IsMutating reports whether method changes server state and needs CSRF protection
func IsMutating(method string) bool {
	return mutatingMethods[strings.ToUpper(method)]
}

// TokenResolver looks up the CSRF token for a URL
type TokenResolver interface {
	Resolve(ctx context.Context, rawURL string) (string, bool)
}

// Readiness reports when session priming has finished
type Readiness interface {
	Wait(ctx context.Context) error
}

// Options configures an Augmentor
type Options struct {
	// Origin is the API base URL; only requests below it are augmented
	Origin string

	// APIKey is sent in the X-API-Key header when set
	APIKey string

	// ExtraHeaders are added to every API request
	ExtraHeaders map[string]string

	Platform platform.Context

	// Readiness, when set, is awaited (up to ReadyTimeout) before a
	// mutating request resolves its token
	Readiness    Readiness
	ReadyTimeout time.Duration
}

// Augmentor attaches authentication material to outgoing requests
type Augmentor struct {
	origin       *url.URL
	apiKey       string
	extraHeaders map[string]string
	platform     platform.Context
	readiness    Readiness
	readyTimeout time.Duration
	resolver     TokenResolver
	log          zerolog.Logger
}

// New creates an Augmentor for the API at opts.Origin
func New(opts Options, resolver TokenResolver, log zerolog.Logger) (*Augmentor, error) {
	origin, err := url.Parse(strings.TrimRight(opts.Origin, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API origin: %w", err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, errors.New("API origin must be an absolute URL")
	}
	if resolver == nil {
		return nil, errors.New("token resolver is required")
	}

	timeout := opts.ReadyTimeout
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}

	return &Augmentor{
		origin:       origin,
		apiKey:       opts.APIKey,
		extraHeaders: maps.Clone(opts.ExtraHeaders),
		platform:     opts.Platform,
		readiness:    opts.Readiness,
		readyTimeout: timeout,
		resolver:     resolver,
		log:          log.With().Str("component", "augment").Logger(),
	}, nil
}

// Origin returns the API base URL without a trailing slash
func (a *Augmentor) Origin() string {
	return a.origin.String()
}

// Platform returns the platform the augmentor branches on
func (a *Augmentor) Platform() platform.Context {
	return a.platform
}

// Augment returns the request that should be dispatched in place of req.
// req itself is never modified. CSRF resolution completes before Augment
// returns.
func (a *Augmentor) Augment(ctx context.Context, req *Request) (*Request, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid request URL: %w", err)
	}

	if !a.underOrigin(target) {
		return req, nil
	}

	out := req.Clone()
	out.Method = strings.ToUpper(out.Method)
	a.applyBaseHeaders(out)

	if !IsMutating(out.Method) {
		return out, nil
	}

	log := a.log.With().
		Str("request_id", ulid.Make().String()).
		Str("method", out.Method).
		Str("path", target.Path).
		Str("platform", a.platform.String()).
		Logger()

	a.awaitReadiness(ctx, log)

	token, ok := a.resolver.Resolve(csrf.WithRequestScope(ctx), a.Origin())
	if !ok {
		log.Warn().Msg("CSRF token not found in cookies, sending request without it")
		return out, nil
	}

	if a.platform.IsNative {
		out.Header.Set(csrf.HeaderName, token)
		log.Debug().Msg("CSRF token attached as header")
		return out, nil
	}

	out.Header.Del(csrf.HeaderName)
	out.Body = a.injectToken(out.Body, token, log)
	return out, nil
}

func (a *Augmentor) underOrigin(target *url.URL) bool {
	if !strings.EqualFold(target.Scheme, a.origin.Scheme) || hostKey(target) != hostKey(a.origin) {
		return false
	}

	base := strings.TrimRight(a.origin.Path, "/")
	if base == "" {
		return true
	}
	return target.Path == base || strings.HasPrefix(target.Path, base+"/")
}

// hostKey returns the lowercased host with the scheme's default port removed
func hostKey(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	switch {
	case port == "":
	case port == "80" && strings.EqualFold(u.Scheme, "http"):
	case port == "443" && strings.EqualFold(u.Scheme, "https"):
	default:
		return net.JoinHostPort(host, port)
	}
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

func (a *Augmentor) applyBaseHeaders(req *Request) {
	for name, value := range a.extraHeaders {
		req.Header.Set(name, value)
	}
	if a.apiKey != "" {
		req.Header.Set(APIKeyHeader, a.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Credentials = true
}

func (a *Augmentor) awaitReadiness(ctx context.Context, log zerolog.Logger) {
	if a.readiness == nil {
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.readyTimeout)
	defer cancel()

	if err := a.readiness.Wait(waitCtx); err != nil {
		log.Warn().Err(err).Msg("Session priming not finished, resolving CSRF token anyway")
	}
}

// injectToken merges the token into body according to its type
func (a *Augmentor) injectToken(body any, token string, log zerolog.Logger) any {
	switch b := body.(type) {
	case nil:
		log.Debug().Msg("CSRF token sent as request body")
		return map[string]any{csrf.BodyField: token}

	case map[string]any:
		b[csrf.BodyField] = token
		return b

	case *FormData:
		// The token is appended as an extra field, replacing one left by an
		// earlier pass so that re-augmenting a form carries a single token
		b.Delete(csrf.BodyField)
		b.Append(csrf.BodyField, token)
		return b

	case url.Values:
		b.Set(csrf.BodyField, token)
		return b

	case string:
		return mergeJSONText(b, token, log)

	case json.RawMessage:
		return json.RawMessage(mergeJSONText(string(b), token, log))

	case []byte, io.Reader:
		log.Warn().Msg("Binary request body cannot carry a CSRF field, sending without it")
		return body

	default:
		// Structured values are merged as the JSON object they encode to
		data, err := json.Marshal(b)
		if err != nil || !gjson.ParseBytes(data).IsObject() {
			log.Warn().Err(err).Msg("Request body is not an object, sending without CSRF field")
			return body
		}

		var object map[string]any
		if err := json.Unmarshal(data, &object); err != nil {
			log.Warn().Err(err).Msg("Request body is not an object, sending without CSRF field")
			return body
		}
		object[csrf.BodyField] = token
		return object
	}
}

// mergeJSONText sets the token field in a JSON object, keeping the field
// order of the original text. Text that isn't a JSON object is replaced by
// an object holding only the token.
func mergeJSONText(body, token string, log zerolog.Logger) string {
	if gjson.Valid(body) && gjson.Parse(body).IsObject() {
		merged, err := sjson.Set(body, csrf.BodyField, token)
		if err == nil {
			return merged
		}
		log.Warn().Err(err).Msg("Failed to merge CSRF field into JSON body")
	}

	log.Warn().
		Int("discarded_bytes", len(body)).
		Msg("Request body is not a JSON object, replacing it with the CSRF field")

	replacement, _ := sjson.Set("{}", csrf.BodyField, token)
	return replacement
}
