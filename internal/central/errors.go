// Package central provides the HTTP client for the central authority's
// appliance API: license validation, device registration, batch sync, and
// heartbeat. The client never retries; a failed leg is retried by the
// scheduler's next cycle, which keeps pending changes intact.
package central

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, central.ErrUnauthorized) to check.
var (
	ErrBadRequest   = errors.New("central: bad request")
	ErrUnauthorized = errors.New("central: unauthorized")
	ErrForbidden    = errors.New("central: forbidden")
	ErrNotFound     = errors.New("central: not found")
	ErrServerError  = errors.New("central: server error")

	// ErrUnreachable marks transport failures: connection refused, DNS
	// failure, timeout. Distinct from HTTP errors because the authority
	// never saw the request.
	ErrUnreachable = errors.New("central: server unreachable")
)

// APIError wraps a sentinel error with the HTTP status code and the
// server's error message for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("central: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// newAPIError builds an APIError from a non-2xx response body. The
// authority reports failures as {"error": "..."}; when the body is not
// that shape the raw text is carried instead.
func newAPIError(status int, body []byte) *APIError {
	return &APIError{
		StatusCode: status,
		Message:    serverMessage(status, body),
		Err:        classifyStatus(status),
	}
}

func serverMessage(status int, body []byte) string {
	var parsed struct {
		Error string `json:"error"`
	}

	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}

	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}

	return http.StatusText(status)
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		if code >= http.StatusBadRequest {
			return ErrBadRequest
		}

		return nil
	}
}
