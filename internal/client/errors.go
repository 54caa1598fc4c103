package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// StatusSessionExpired is the CSRF token mismatch status used by Sanctum backends
const StatusSessionExpired = 419

// APIError is a non-2xx API response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

func newAPIError(status int, body []byte) *APIError {
	message := "Unknown error"
	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		for _, path := range []string{"message", "error"} {
			if value := parsed.Get(path); value.Type == gjson.String && value.Str != "" {
				message = value.Str
				break
			}
		}
	}
	return &APIError{StatusCode: status, Message: message}
}

// IsUnauthenticated reports whether err is a 401 or a 419 session/CSRF rejection
func IsUnauthenticated(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == StatusSessionExpired
}
