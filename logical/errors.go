package logical

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failure so callers can react without string
// matching. Every component converts its internal failures to one of
// these kinds before the error crosses the component boundary.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindRateLimit
	KindInstance
)

// String returns the kind name used in audit details.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindRateLimit:
		return "rate_limit"
	case KindInstance:
		return "instance"
	default:
		return "internal"
	}
}

// CodedError is an error that carries an HTTP status code and a kind.
// This allows handlers to map errors to responses without relying on
// string matching.
type CodedError struct {
	Status  int
	Kind    ErrorKind
	Message string
	Err     error

	// RetryAfter is set on rate-limit and retryable instance errors,
	// in seconds, and surfaced as the Retry-After response header.
	RetryAfter int
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *CodedError) Unwrap() error {
	return e.Err
}

// Code returns the HTTP status code.
func (e *CodedError) Code() int {
	return e.Status
}

// ErrValidation creates a 400 validation error.
func ErrValidation(message string) *CodedError {
	return &CodedError{Status: http.StatusBadRequest, Kind: KindValidation, Message: message}
}

// ErrValidationf creates a formatted 400 validation error.
func ErrValidationf(format string, args ...any) *CodedError {
	return ErrValidation(fmt.Sprintf(format, args...))
}

// ErrAuthentication creates a 401 authentication error. The message is
// deliberately uniform per scheme so callers cannot probe which
// sub-check failed.
func ErrAuthentication(message string) *CodedError {
	return &CodedError{Status: http.StatusUnauthorized, Kind: KindAuthentication, Message: message}
}

// ErrAuthorization creates a 403 authorization error.
func ErrAuthorization(message string) *CodedError {
	return &CodedError{Status: http.StatusForbidden, Kind: KindAuthorization, Message: message}
}

// ErrRateLimited creates a 429 rate-limit error with retry guidance.
func ErrRateLimited(message string, retryAfterSeconds int) *CodedError {
	return &CodedError{
		Status:     http.StatusTooManyRequests,
		Kind:       KindRateLimit,
		Message:    message,
		RetryAfter: retryAfterSeconds,
	}
}

// ErrInstance creates a 503 instance error. Retryable start timeouts
// set a RetryAfter hint; instances parked in the error state do not.
func ErrInstance(message string, retryAfterSeconds int) *CodedError {
	return &CodedError{
		Status:     http.StatusServiceUnavailable,
		Kind:       KindInstance,
		Message:    message,
		RetryAfter: retryAfterSeconds,
	}
}

// ErrInternal creates a 500 internal error with a generic message.
func ErrInternal(message string) *CodedError {
	return &CodedError{Status: http.StatusInternalServerError, Kind: KindInternal, Message: message}
}

// WrapWithCode wraps an existing error with a status and kind.
func WrapWithCode(status int, kind ErrorKind, err error) *CodedError {
	return &CodedError{Status: status, Kind: kind, Message: err.Error(), Err: err}
}

// ErrStorageTimeout is returned when a storage lookup exceeds its
// deadline. It is retryable.
var ErrStorageTimeout = &CodedError{
	Status:     http.StatusServiceUnavailable,
	Kind:       KindInternal,
	Message:    "storage timeout",
	RetryAfter: 1,
}

// GetErrorCode extracts the HTTP status code from an error, defaulting
// to 500 for anything that is not a CodedError.
func GetErrorCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Status
	}
	return http.StatusInternalServerError
}

// GetErrorKind extracts the kind from an error, defaulting to internal.
func GetErrorKind(err error) ErrorKind {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Kind
	}
	return KindInternal
}
