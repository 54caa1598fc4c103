// Package client talks to the session-authenticated API. Every request is
// passed through the augmentor and sent with the persistent cookie jar.
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/branchd-dev/cookiesync/internal/augment"
	"github.com/branchd-dev/cookiesync/internal/authstate"
	"github.com/branchd-dev/cookiesync/internal/bootstrap"
	"github.com/branchd-dev/cookiesync/internal/csrf"
)

const (
	LoginPath   = "/auth/login"
	LogoutPath  = "/auth/logout"
	ProfilePath = "/user/profile"

	defaultTimeout = 30 * time.Second

	// maxResponseSize bounds how much of a response body is read
	maxResponseSize = 10 << 20
)

// ErrMissingCredentials is returned by Login before any request is made
var ErrMissingCredentials = errors.New("email and password are required")

// Augmentor decorates outgoing requests
type Augmentor interface {
	Augment(ctx context.Context, req *augment.Request) (*augment.Request, error)
	Origin() string
}

// Client represents an HTTP client for the session-authenticated API
type Client struct {
	augmentor Augmentor
	log       zerolog.Logger
	validate  *validator.Validate

	// httpClient carries the cookie jar; anonClient is used for requests
	// that must not send or store cookies
	httpClient *http.Client
	anonClient *http.Client
}

type options struct {
	timeout     time.Duration
	insecureTLS bool
	transport   http.RoundTripper
}

// Option configures a Client
type Option func(*options)

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithInsecureTLS skips certificate verification, for self-signed development backends
func WithInsecureTLS(insecure bool) Option {
	return func(o *options) {
		o.insecureTLS = insecure
	}
}

// WithTransport replaces the underlying round tripper
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// New creates a new API client. jar receives every Set-Cookie of
// credentialed requests.
func New(augmentor Augmentor, jar http.CookieJar, log zerolog.Logger, opts ...Option) *Client {
	o := options{timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	transport := o.transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if o.insecureTLS {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		transport = t
	}

	return &Client{
		augmentor:  augmentor,
		log:        log.With().Str("component", "client").Logger(),
		validate:   validator.New(),
		httpClient: &http.Client{Timeout: o.timeout, Transport: transport, Jar: jar},
		anonClient: &http.Client{Timeout: o.timeout, Transport: transport},
	}
}

// URL returns the absolute URL of an API path
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.augmentor.Origin() + "/" + strings.TrimLeft(path, "/")
}

// Response is a fully read API response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON parses the body
func (r *Response) JSON() gjson.Result {
	return gjson.ParseBytes(r.Body)
}

// Do augments, encodes and sends req. Responses outside the 2xx range
// are returned as *APIError.
func (c *Client) Do(ctx context.Context, req *augment.Request) (*Response, error) {
	ctx = csrf.WithRequestScope(ctx)

	out, err := c.augmentor.Augment(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request: %w", err)
	}

	httpReq, err := augment.Encode(ctx, out)
	if err != nil {
		return nil, err
	}

	httpClient := c.anonClient
	if out.Credentials {
		httpClient = c.httpClient
	}

	start := time.Now()
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debug().
		Str("method", httpReq.Method).
		Str("url", httpReq.URL.Redacted()).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("API request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, body)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// PrimeCSRF requests the CSRF cookie so the jar holds the session token
func (c *Client) PrimeCSRF(ctx context.Context) error {
	_, err := c.Do(ctx, augment.NewRequest(http.MethodGet, c.URL(bootstrap.CSRFCookiePath), nil))
	return err
}

// Credentials are the login form fields
type Credentials struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login authenticates with the backend and returns the user envelope to persist
func (c *Client) Login(ctx context.Context, creds Credentials) (*authstate.CompleteUserData, error) {
	if err := c.validate.Struct(creds); err != nil {
		return nil, ErrMissingCredentials
	}

	body := map[string]any{
		"email":    creds.Email,
		"password": creds.Password,
	}
	resp, err := c.Do(ctx, augment.NewRequest(http.MethodPost, c.URL(LoginPath), body))
	if err != nil {
		return nil, err
	}

	return normalize(resp.JSON(), "Login successful", "user", "data.user", "data")
}

// Profile fetches the current user. The returned user has a zero ID when
// the backend did not send one.
func (c *Client) Profile(ctx context.Context) (*authstate.CompleteUserData, error) {
	resp, err := c.Do(ctx, augment.NewRequest(http.MethodGet, c.URL(ProfilePath), nil))
	if err != nil {
		return nil, err
	}

	return normalize(resp.JSON(), "Profile loaded successfully", "user", "data")
}

// Logout ends the remote session
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.Do(ctx, augment.NewRequest(http.MethodPost, c.URL(LogoutPath), nil))
	return err
}

// normalize builds an envelope from the first populated path, falling back
// to the whole body
func normalize(body gjson.Result, defaultMessage string, paths ...string) (*authstate.CompleteUserData, error) {
	raw := body.Raw
	for _, path := range paths {
		if value := body.Get(path); populated(value) {
			raw = value.Raw
			break
		}
	}

	var user authstate.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("unexpected response: %w", err)
	}

	message := defaultMessage
	if m := body.Get("message"); populated(m) {
		message = m.String()
	}

	return &authstate.CompleteUserData{User: &user, Message: message}, nil
}

// populated mirrors a truthiness check on a JSON value
func populated(r gjson.Result) bool {
	if !r.Exists() {
		return false
	}
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.String:
		return r.Str != ""
	case gjson.Number:
		return r.Num != 0
	default:
		return true
	}
}
