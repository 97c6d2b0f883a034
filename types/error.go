package types

import "fmt"

// ErrorCode represents a unified error code across the service.
type ErrorCode string

// Request and upstream error codes
const (
	ErrInvalidRequest        ErrorCode = "INVALID_REQUEST"
	ErrUpstreamUnavailable   ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrUpstreamTimeout       ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamRejected      ErrorCode = "UPSTREAM_REJECTED"
	ErrGenerationFailed      ErrorCode = "GENERATION_FAILED"
	ErrModerationUnavailable ErrorCode = "MODERATION_UNAVAILABLE"
	ErrInternalError         ErrorCode = "INTERNAL_ERROR"
)

// Feedback error codes
const (
	ErrUnknownArtifact ErrorCode = "UNKNOWN_ARTIFACT"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Provider  string    `json:"provider,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable. Only transient upstream
// failures (unavailable, timeout) are marked retryable by the clients.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
