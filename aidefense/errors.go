package aidefense

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrValidation is returned when a request is rejected before any I/O
	// because of invalid inputs.
	ErrValidation = errors.New("validation error")

	// ErrAuthentication is returned when the inspection service rejects the
	// API key (HTTP 401).
	ErrAuthentication = errors.New("authentication error")

	// ErrAPI is returned for all other HTTP or network failures talking to
	// the inspection service.
	ErrAPI = errors.New("api error")

	// ErrResponseParse is returned when a management-plane payload cannot be
	// decoded into its expected shape.
	ErrResponseParse = errors.New("response parse error")
)

// ValidationError reports invalid caller input: a malformed URL, an unknown
// HTTP method, an empty message list, a bad payload shape. It is never
// retried and always surfaces to the caller.
type ValidationError struct {
	// Message describes what was invalid.
	Message string
}

// Error returns a human-readable description of the validation failure.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// AuthenticationError reports an HTTP 401 from the inspection service.
// It is never retried.
type AuthenticationError struct {
	// Message is the server-provided error message, if any.
	Message string
	// RequestID is the x-aidefense-request-id of the failed request.
	RequestID string
}

// Error returns a human-readable description of the authentication failure.
func (e *AuthenticationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authentication error: %s", e.Message)
	}
	return "authentication error"
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrAuthentication).
func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAuthentication
}

// APIError reports a non-401/400 HTTP failure or a network failure talking
// to the inspection service. StatusCode is zero for pure transport errors.
type APIError struct {
	// StatusCode is the HTTP status, or 0 for network failures.
	StatusCode int
	// Message is the server-provided error message or transport error text.
	Message string
	// RequestID is the x-aidefense-request-id of the failed request.
	RequestID string
	// Err is the underlying transport error, if any.
	Err error

	// retryAfter is the parsed Retry-After hint, when the server sent one.
	retryAfter time.Duration
}

// Error returns a human-readable description of the API failure.
func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error: %s", e.Message)
}

// Unwrap returns the underlying transport error.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrAPI).
func (e *APIError) Is(target error) bool {
	return target == ErrAPI
}

// ResponseParseError reports a management-plane payload that could not be
// decoded. Raw carries the undecodable payload for diagnostics.
type ResponseParseError struct {
	// Message describes the decode failure.
	Message string
	// Raw is the payload that failed to decode.
	Raw any
}

// Error returns a human-readable description of the parse failure.
func (e *ResponseParseError) Error() string {
	return fmt.Sprintf("response parse error: %s", e.Message)
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrResponseParse).
func (e *ResponseParseError) Is(target error) bool {
	return target == ErrResponseParse
}
