// Package errors provides error handling functionality for the connection gateway.
// It defines error categories, error codes, and wire-level error conversion.
package errors

import (
	"fmt"

	"github.com/openboard/gateway/internal/message"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryAuth represents authentication and authorization errors
	CategoryAuth ErrorCategory = "auth"
	// CategoryValidation represents input validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategorySession represents session lifecycle errors (expired, not found)
	CategorySession ErrorCategory = "session"
	// CategoryRateLimit represents rate limiting errors
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategoryService represents internal service errors (verifier, persistence)
	CategoryService ErrorCategory = "service"
)

// ErrorCode represents specific error codes
type ErrorCode string

const (
	// Authentication errors
	ErrCodeInvalidToken      ErrorCode = "INVALID_TOKEN"
	ErrCodeExpiredToken      ErrorCode = "EXPIRED_TOKEN"
	ErrCodeAuthRequired      ErrorCode = "AUTH_REQUIRED"
	ErrCodeInsufficientPerms ErrorCode = "INSUFFICIENT_PERMISSIONS"

	// Validation errors
	ErrCodeInvalidFormat   ErrorCode = "INVALID_FORMAT"
	ErrCodeUnknownType     ErrorCode = "UNKNOWN_MESSAGE_TYPE"
	ErrCodeMessageTooLarge ErrorCode = "MESSAGE_TOO_LARGE"
	ErrCodeContentTooLong  ErrorCode = "CONTENT_TOO_LONG"

	// Session errors
	ErrCodeSessionExpired  ErrorCode = "SESSION_EXPIRED"
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"

	// Rate limiting errors
	ErrCodeTooManyRequests    ErrorCode = "TOO_MANY_REQUESTS"
	ErrCodeConnectionLimit    ErrorCode = "CONNECTION_LIMIT_EXCEEDED"
	ErrCodeCapacityExceeded   ErrorCode = "SERVER_AT_CAPACITY"
	ErrCodeTooManyConnections ErrorCode = "TOO_MANY_CONNECTIONS"

	// Service errors
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"
	ErrCodeServiceError  ErrorCode = "SERVICE_ERROR"
)

// GatewayError represents an application error with category and recoverability information.
// Recoverable errors are reported to the client and the connection stays open;
// non-recoverable ones close the session after the client is notified.
type GatewayError struct {
	Category    ErrorCategory
	Code        ErrorCode
	Message     string
	Recoverable bool
	RetryAfter  int // milliseconds, only for rate limit errors
	Cause       error
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// IsFatal returns true if the error is fatal and requires connection closure
func (e *GatewayError) IsFatal() bool {
	return !e.Recoverable
}

// ToErrorInfo converts a GatewayError to a message.ErrorInfo for the wire protocol.
// The cause is deliberately not included: internal detail never leaks to the client.
func (e *GatewayError) ToErrorInfo() *message.ErrorInfo {
	return &message.ErrorInfo{
		Code:       string(e.Code),
		Message:    e.Message,
		RetryAfter: e.RetryAfter,
	}
}

// NewAuthError creates a new authentication error (fatal)
func NewAuthError(code ErrorCode, msg string, cause error) *GatewayError {
	return &GatewayError{
		Category:    CategoryAuth,
		Code:        code,
		Message:     msg,
		Recoverable: false,
		Cause:       cause,
	}
}

// NewValidationError creates a new validation error (recoverable)
func NewValidationError(code ErrorCode, msg string, cause error) *GatewayError {
	return &GatewayError{
		Category:    CategoryValidation,
		Code:        code,
		Message:     msg,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewSessionError creates a new session lifecycle error (fatal)
func NewSessionError(code ErrorCode, msg string, cause error) *GatewayError {
	return &GatewayError{
		Category:    CategorySession,
		Code:        code,
		Message:     msg,
		Recoverable: false,
		Cause:       cause,
	}
}

// NewServiceError creates a new service error (recoverable with retry)
func NewServiceError(code ErrorCode, msg string, cause error) *GatewayError {
	return &GatewayError{
		Category:    CategoryService,
		Code:        code,
		Message:     msg,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewRateLimitError creates a new rate limit error (recoverable with retry after)
func NewRateLimitError(code ErrorCode, msg string, retryAfter int, cause error) *GatewayError {
	return &GatewayError{
		Category:    CategoryRateLimit,
		Code:        code,
		Message:     msg,
		Recoverable: true,
		RetryAfter:  retryAfter,
		Cause:       cause,
	}
}

// Common error constructors for convenience

// ErrInvalidToken creates an invalid token error
func ErrInvalidToken(cause error) *GatewayError {
	return NewAuthError(ErrCodeInvalidToken, "Invalid authentication token", cause)
}

// ErrExpiredToken creates an expired token error
func ErrExpiredToken(cause error) *GatewayError {
	return NewAuthError(ErrCodeExpiredToken, "Authentication token has expired", cause)
}

// ErrAuthRequired creates an error for routes that require authentication
func ErrAuthRequired() *GatewayError {
	return NewAuthError(ErrCodeAuthRequired, "Authentication required", nil)
}

// ErrSessionExpired creates a session expiry error
func ErrSessionExpired() *GatewayError {
	return NewSessionError(ErrCodeSessionExpired, "Session has expired", nil)
}

// ErrRateLimited creates a message rate limit error
func ErrRateLimited(retryAfter int) *GatewayError {
	return NewRateLimitError(ErrCodeTooManyRequests, "Message rate limit exceeded", retryAfter, nil)
}

// ErrConnectionLimitExceeded creates a connection-admission rate limit error
func ErrConnectionLimitExceeded(retryAfter int) *GatewayError {
	return NewRateLimitError(ErrCodeConnectionLimit, "Connection rate limit exceeded", retryAfter, nil)
}
