package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Airtable failure classes. Every error returned by the request executor
// wraps exactly one of these.
var (
	// ErrInvalidCredentials is returned for HTTP 401
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrForbidden is returned for HTTP 403 (token lacks scope or base access)
	ErrForbidden = errors.New("insufficient permissions")

	// ErrNotFound is returned for HTTP 404 (base, table or record)
	ErrNotFound = errors.New("not found")

	// ErrInvalidRequest is returned for HTTP 422
	ErrInvalidRequest = errors.New("invalid request")

	// ErrRateLimited is returned for HTTP 429 once retries are exhausted
	ErrRateLimited = errors.New("rate limited")

	// ErrNetwork covers transport failures: refused connections, DNS, timeouts
	ErrNetwork = errors.New("network error")

	// ErrAPI is any other non-2xx response
	ErrAPI = errors.New("airtable api error")
)

// Application errors used outside the executor.
var (
	// ErrInvalidInput indicates a missing or malformed parameter
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates missing or invalid host authentication
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")
)

// APIError describes a non-2xx response from Airtable
type APIError struct {
	StatusCode int
	Type       string // Airtable error type, e.g. NOT_FOUND, INVALID_REQUEST_UNKNOWN
	Message    string // Airtable error message, may be empty
	Kind       error  // one of the Err* sentinels above
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(describe(e.Kind))
	fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	if e.Type != "" {
		b.WriteString(" ")
		b.WriteString(e.Type)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

// describe returns the user-facing text for a sentinel
func describe(kind error) string {
	switch kind {
	case ErrInvalidCredentials:
		return "Invalid Airtable credentials"
	case ErrForbidden:
		return "Airtable token lacks the required scope or base access"
	case ErrNotFound:
		return "Airtable base, table or record not found"
	case ErrInvalidRequest:
		return "Airtable rejected the request body"
	case ErrRateLimited:
		return "Airtable rate limit exceeded"
	default:
		return "Airtable API error"
	}
}

// KindForStatus maps an HTTP status code to its failure class
func KindForStatus(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return ErrInvalidCredentials
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnprocessableEntity:
		return ErrInvalidRequest
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return ErrAPI
	}
}

// FromResponse classifies a non-2xx response. body is the raw response body;
// Airtable sends either {"error":{"type":"...","message":"..."}} or {"error":"NOT_FOUND"}.
func FromResponse(status int, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: status,
		Kind:       KindForStatus(status),
	}

	field := gjson.GetBytes(body, "error")
	switch {
	case field.IsObject():
		apiErr.Type = field.Get("type").String()
		apiErr.Message = field.Get("message").String()
	case field.Type == gjson.String:
		apiErr.Type = field.String()
	}

	return apiErr
}

// NetworkError wraps a transport failure
func NetworkError(operation string, err error) error {
	return fmt.Errorf("%s: cannot reach Airtable: %w: %w", operation, ErrNetwork, err)
}

// RateLimitExhaustedError wraps the last 429 after all retries were spent
func RateLimitExhaustedError(retries int, last error) error {
	return fmt.Errorf("gave up after %d retries: %w", retries, last)
}

// InvalidInputError creates an invalid input error with context
func InvalidInputError(field, reason string) error {
	return fmt.Errorf("%s: %s: %w", field, reason, ErrInvalidInput)
}

// InternalError creates an internal error with context
func InternalError(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrInternal)
}

// HTTPStatus maps a classified error to the status returned to the host
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrNetwork):
		return http.StatusBadGateway
	case errors.Is(err, ErrAPI):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
