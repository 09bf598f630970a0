package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// HTTP surface authentication
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Portal authentication
	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeLoginFlowChanged   ErrorCode = "LOGIN_FLOW_CHANGED"
	ErrCodeRedirectLimit      ErrorCode = "REDIRECT_LIMIT_EXCEEDED"
	ErrCodeVersionDiscovery   ErrorCode = "VERSION_DISCOVERY_EXHAUSTED"
	ErrCodeLoginInProgress    ErrorCode = "LOGIN_IN_PROGRESS"

	// Portal session and data
	ErrCodeSessionExpired ErrorCode = "SESSION_EXPIRED"
	ErrCodeTransient      ErrorCode = "TRANSIENT_API_ERROR"
	ErrCodeDataShape      ErrorCode = "DATA_SHAPE_ERROR"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeExternal ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

// AppError is a structured error that can be returned to clients
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

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func InvalidToken(message string) *AppError {
	return New(ErrCodeInvalidToken, message)
}

func InvalidCredentials() *AppError {
	return New(ErrCodeInvalidCredentials, "Portal rejected the credentials")
}

func LoginFlowChanged(reason string) *AppError {
	return New(ErrCodeLoginFlowChanged, fmt.Sprintf("Login flow changed: %s", reason))
}

func RedirectLimit(limit int) *AppError {
	return New(ErrCodeRedirectLimit, fmt.Sprintf("Login did not reach the portal within %d redirects", limit))
}

func VersionDiscovery(attempts int) *AppError {
	return New(ErrCodeVersionDiscovery, fmt.Sprintf("No supported API version found after %d attempts", attempts))
}

func LoginInProgress() *AppError {
	return New(ErrCodeLoginInProgress, "A login is already in progress")
}

func SessionExpired() *AppError {
	return New(ErrCodeSessionExpired, "Portal session expired")
}

func Transient(message string, cause error) *AppError {
	return Wrap(ErrCodeTransient, message, cause)
}

func DataShape(what string, cause error) *AppError {
	return Wrap(ErrCodeDataShape, fmt.Sprintf("Unexpected %s payload", what), cause)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

func External(service string, cause error) *AppError {
	return Wrap(ErrCodeExternal, fmt.Sprintf("External service error: %s", service), cause)
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

// IsAuthentication reports whether err is one of the portal login failures.
func IsAuthentication(err error) bool {
	if err == nil {
		return false
	}
	switch GetCode(err) {
	case ErrCodeInvalidCredentials,
		ErrCodeLoginFlowChanged,
		ErrCodeRedirectLimit,
		ErrCodeVersionDiscovery,
		ErrCodeLoginInProgress,
		ErrCodeSessionExpired:
		return true
	}
	return false
}
