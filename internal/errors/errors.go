package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Cloud communication
	ErrCodeNetworkFailure ErrorCode = "NETWORK_FAILURE"
	ErrCodeAPI            ErrorCode = "API_ERROR"
	ErrCodeUnauthorized   ErrorCode = "UNAUTHORIZED"

	// Content
	ErrCodeDownloadFailed     ErrorCode = "DOWNLOAD_FAILED"
	ErrCodeVerificationFailed ErrorCode = "VERIFICATION_FAILED"

	// Playback
	ErrCodePlayerFailure ErrorCode = "PLAYER_FAILURE"

	// Pairing
	ErrCodeNotPaired      ErrorCode = "NOT_PAIRED"
	ErrCodePairingExpired ErrorCode = "PAIRING_EXPIRED"

	// Recovery
	ErrCodeCriticalFault     ErrorCode = "CRITICAL_FAULT"
	ErrCodeRecoveryExhausted ErrorCode = "RECOVERY_EXHAUSTED"

	// Local API
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound   ErrorCode = "NOT_FOUND"
	ErrCodeForbidden  ErrorCode = "FORBIDDEN"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error carried across component boundaries
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func NetworkFailure(operation string, cause error) *AppError {
	return Wrap(ErrCodeNetworkFailure, fmt.Sprintf("%s: network failure", operation), cause)
}

func APIError(operation string, status int) *AppError {
	return New(ErrCodeAPI, fmt.Sprintf("%s: unexpected status %d", operation, status)).
		WithDetails(map[string]int{"status": status})
}

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func DownloadFailed(mediaID string, cause error) *AppError {
	return Wrap(ErrCodeDownloadFailed, fmt.Sprintf("download of media %s failed", mediaID), cause)
}

func VerificationFailed(mediaID, reason string) *AppError {
	return New(ErrCodeVerificationFailed, fmt.Sprintf("media %s failed verification: %s", mediaID, reason))
}

func PlayerFailure(mediaID string, cause error) *AppError {
	return Wrap(ErrCodePlayerFailure, fmt.Sprintf("player failed for media %s", mediaID), cause)
}

func NotPaired() *AppError {
	return New(ErrCodeNotPaired, "Device is not paired")
}

func PairingExpired() *AppError {
	return New(ErrCodePairingExpired, "Pairing code has expired")
}

func CriticalFault(message string, cause error) *AppError {
	return Wrap(ErrCodeCriticalFault, message, cause)
}

func RecoveryExhausted(attempts int) *AppError {
	return New(ErrCodeRecoveryExhausted, fmt.Sprintf("recovery budget exhausted after %d attempts", attempts))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsRecoverable reports whether the daemon should simply retry on its next
// natural tick. Only critical faults and an exhausted recovery budget are not.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	switch GetCode(err) {
	case ErrCodeCriticalFault, ErrCodeRecoveryExhausted:
		return false
	default:
		return true
	}
}
