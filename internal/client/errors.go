package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/npezzotti/synqup/internal/types"
)

// HTTPError represents a non-2xx HTTP response from the API.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status code onto the shared error taxonomy so callers can
// use errors.Is without knowing about HTTP.
func (e *HTTPError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return types.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.ErrUnauthorized
	case http.StatusConflict:
		return types.ErrConflict
	case http.StatusBadRequest, http.StatusTooManyRequests:
		return types.ErrValidation
	}
	return nil
}

// IsStatus returns true if err (or any wrapped error) is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}
