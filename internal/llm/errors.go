package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable indicates no LLM backend is configured, enabled and
	// reachable. Callers surface this to the user instead of retrying.
	ErrUnavailable = errors.New("llm backend is not available")

	// ErrNoDriver indicates the service was constructed without a driver.
	ErrNoDriver = errors.New("llm driver is required")

	// ErrEmptyResponse indicates the backend answered without content.
	ErrEmptyResponse = errors.New("llm backend returned an empty response")
)

// maxErrorBody bounds how much of an error response body is kept for the
// error message. Backends can return large HTML error pages.
const maxErrorBody = 512

// APIError is a non-2xx response from an LLM backend's HTTP API.
type APIError struct {
	Backend    string
	StatusCode int
	Body       string
}

// NewAPIError builds an APIError, truncating body to a readable length.
func NewAPIError(backend string, statusCode int, body []byte) *APIError {
	b := string(body)
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody] + "..."
	}
	return &APIError{Backend: backend, StatusCode: statusCode, Body: b}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Backend, e.StatusCode, e.Body)
}
