// Package sanctumtest is a fake Sanctum-style backend for tests.
//
// It issues a session cookie and an XSRF-TOKEN cookie from
// /sanctum/csrf-cookie and rejects mutating requests whose token, sent as
// the X-XSRF-TOKEN header or as a _token body field, does not match the
// session.
package sanctumtest

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/crypto/bcrypt"
)

const (
	SessionCookie = "cookiesync_session"
	CSRFCookie    = "XSRF-TOKEN"
	CSRFHeader    = "X-XSRF-TOKEN"
	TokenField    = "_token"
	APIKeyHeader  = "X-API-Key"

	// StatusTokenMismatch is returned when the CSRF token is missing or wrong
	StatusTokenMismatch = 419
)

var ErrUserExists = errors.New("user already exists")

// User is an account known to the fake backend
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`

	passwordHash []byte
}

// Recorded is a request as the backend received it
type Recorded struct {
	Method      string
	Path        string
	Header      http.Header
	Body        []byte
	TokenSource string // header, body or empty when no token was checked
}

type session struct {
	token  string
	userID int64
}

// Server is the fake backend
type Server struct {
	router    *gin.Engine
	log       zerolog.Logger
	apiKey    string
	loginBody func(*User) any

	mu       sync.Mutex
	sessions map[string]*session
	users    map[string]*User
	requests []Recorded
}

// Option configures a Server
type Option func(*Server)

// WithAPIKey makes the server reject requests without this X-API-Key
func WithAPIKey(key string) Option {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithLogger sets the request logger
func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithLoginBody replaces the successful login response body
func WithLoginBody(fn func(user *User) any) Option {
	return func(s *Server) {
		s.loginBody = fn
	}
}

// New creates a fake backend
func New(opts ...Option) *Server {
	s := &Server{
		log:      zerolog.Nop(),
		sessions: make(map[string]*session),
		users:    make(map[string]*User),
		loginBody: func(user *User) any {
			return gin.H{"message": "Welcome back", "data": gin.H{"user": user}}
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRouter()
	return s
}

// Start serves the backend until the test ends and returns its base URL
func (s *Server) Start(t testing.TB) string {
	t.Helper()

	ts := httptest.NewServer(s.router)
	t.Cleanup(ts.Close)
	return ts.URL
}

// Handler returns the backend's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// AddUser registers an account
func (s *Server) AddUser(id int64, name, email, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[email]; ok {
		return ErrUserExists
	}
	s.users[email] = &User{ID: id, Name: name, Email: email, passwordHash: hash}
	return nil
}

// Requests returns every request received so far
func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Recorded, len(s.requests))
	copy(out, s.requests)
	return out
}

// LastRequest returns the most recent request to path
func (s *Server) LastRequest(path string) (Recorded, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.requests) - 1; i >= 0; i-- {
		if s.requests[i].Path == path {
			return s.requests[i], true
		}
	}
	return Recorded{}, false
}

// ExpireSessions forgets every session, as a backend restart would
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*session)
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", APIKeyHeader, CSRFHeader, "ngrok-skip-browser-warning"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	s.router.Use(s.recordMiddleware())
	s.router.Use(s.apiKeyMiddleware())

	s.router.GET("/sanctum/csrf-cookie", s.csrfCookie)
	s.router.GET("/user/profile", s.requireUser(), s.profile)
	s.router.GET("/echo", s.echo)

	protected := s.router.Group("/")
	protected.Use(s.verifyCSRF())
	{
		protected.POST("/auth/login", s.login)
		protected.POST("/auth/logout", s.requireUser(), s.logout)
		protected.POST("/echo", s.echo)
		protected.PUT("/echo", s.echo)
		protected.PATCH("/echo", s.echo)
		protected.DELETE("/echo", s.echo)
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}

// recordMiddleware keeps a copy of every request, body included
func (s *Server) recordMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}
		c.Set("raw_body", string(body))

		s.mu.Lock()
		index := len(s.requests)
		s.requests = append(s.requests, Recorded{
			Method: c.Request.Method,
			Path:   c.Request.URL.Path,
			Header: c.Request.Header.Clone(),
			Body:   body,
		})
		s.mu.Unlock()

		c.Next()

		if source := c.GetString("token_source"); source != "" {
			s.mu.Lock()
			s.requests[index].TokenSource = source
			s.mu.Unlock()
		}
	}
}

func (s *Server) apiKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.apiKey == "" || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		if c.GetHeader(APIKeyHeader) != s.apiKey {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "Invalid API key."})
			return
		}
		c.Next()
	}
}

// verifyCSRF implements the double-submit check: the token from the
// header or the _token field must equal the session's token
func (s *Server) verifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := s.currentSession(c)
		if sess == nil {
			c.AbortWithStatusJSON(StatusTokenMismatch, gin.H{"message": "CSRF token mismatch."})
			return
		}

		s.mu.Lock()
		expected := sess.token
		s.mu.Unlock()

		submitted, source := submittedToken(c)
		if submitted == "" || submitted != expected {
			c.AbortWithStatusJSON(StatusTokenMismatch, gin.H{"message": "CSRF token mismatch."})
			return
		}

		c.Set("token_source", source)
		c.Next()
	}
}

func submittedToken(c *gin.Context) (string, string) {
	if header := c.GetHeader(CSRFHeader); header != "" {
		return header, "header"
	}

	if strings.HasPrefix(c.ContentType(), "application/json") {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return "", ""
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		if token := gjson.GetBytes(body, TokenField); token.Type == gjson.String {
			return token.Str, "body"
		}
		return "", ""
	}

	if token := c.PostForm(TokenField); token != "" {
		return token, "body"
	}
	return "", ""
}

func (s *Server) currentSession(c *gin.Context) *session {
	id, err := c.Cookie(SessionCookie)
	if err != nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.currentUser(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthenticated."})
			return
		}
		c.Next()
	}
}

func (s *Server) currentUser(c *gin.Context) *User {
	sess := s.currentSession(c)
	if sess == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.ID == sess.userID {
			return user
		}
	}
	return nil
}

func (s *Server) csrfCookie(c *gin.Context) {
	id, err := c.Cookie(SessionCookie)

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if err != nil || !ok {
		id = uuid.NewString()
		sess = &session{}
		s.sessions[id] = sess
	}
	sess.token = newToken()
	token := sess.token
	s.mu.Unlock()

	s.writeSessionCookies(c, id, token)
	c.Status(http.StatusNoContent)
}

// LoginRequest is the login form
type LoginRequest struct {
	Email    string `json:"email" form:"email" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "The email and password fields are required."})
		return
	}

	s.mu.Lock()
	user, ok := s.users[req.Email]
	s.mu.Unlock()

	if !ok || bcrypt.CompareHashAndPassword(user.passwordHash, []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid email or password"})
		return
	}

	// A login starts a new session with a new token
	oldID, _ := c.Cookie(SessionCookie)
	id := uuid.NewString()
	token := newToken()

	s.mu.Lock()
	delete(s.sessions, oldID)
	s.sessions[id] = &session{token: token, userID: user.ID}
	s.mu.Unlock()

	s.writeSessionCookies(c, id, token)
	c.JSON(http.StatusOK, s.loginBody(user))
}

func (s *Server) logout(c *gin.Context) {
	id, _ := c.Cookie(SessionCookie)

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, "", -1, "/", "", false, true)
	c.SetCookie(CSRFCookie, "", -1, "/", "", false, false)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (s *Server) profile(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.currentUser(c)})
}

func (s *Server) echo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"method":       c.Request.Method,
		"content_type": c.ContentType(),
		"body":         c.GetString("raw_body"),
		"token_source": c.GetString("token_source"),
	})
}

func (s *Server) writeSessionCookies(c *gin.Context, id, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, id, 7200, "/", "", false, true)
	// Readable by scripts; gin URL-encodes the value like Laravel does
	c.SetCookie(CSRFCookie, token, 7200, "/", "", false, false)
}

// newToken returns a random token containing characters that need URL encoding
func newToken() string {
	buf := make([]byte, 30)
	_, _ = rand.Read(buf)
	return base64.StdEncoding.EncodeToString(buf) + "="
}
