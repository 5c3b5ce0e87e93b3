package botapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUnreachable wraps transport-level failures (DNS, connect, TLS, timeout)
// where no API response was received.
var ErrUnreachable = errors.New("botapi: endpoint unreachable")

// APIError is a structured rejection returned by the endpoint.
// Callers can use errors.As to extract it.
type APIError struct {
	// Code is the API error_code (usually mirrors the HTTP status).
	Code int
	// Description is the server's human-readable explanation.
	Description string
	// StatusCode is the HTTP status code of the response.
	StatusCode int
	// RetryAfter is set when the server asked the client to slow down.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("botapi: %d (%d): %s (retry after %s)", e.Code, e.StatusCode, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("botapi: %d (%d): %s", e.Code, e.StatusCode, e.Description)
}

// Permanent reports whether retrying the same request cannot succeed:
// any 4xx except 429 (throttled) and 408 (request timeout).
func (e *APIError) Permanent() bool {
	s := e.StatusCode
	return s >= 400 && s < 500 && s != http.StatusTooManyRequests && s != http.StatusRequestTimeout
}

// IsPermanent reports whether err carries a permanent *APIError.
func IsPermanent(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Permanent()
}

// RetryAfter extracts a server-requested delay from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter, true
	}
	return 0, false
}
