// Package httperrors provides generic error responses for HTTP endpoints.
// It ensures that internal implementation details are not leaked to clients.
package httperrors

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openboard/gateway/internal/constants"
)

// ErrorResponse represents a generic error response for clients
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	RetryAfter int    `json:"retry_after_ms,omitempty"`
}

// Generic error messages that don't expose internal details
const (
	MsgUnauthorized      = "Authentication required"
	MsgInvalidToken      = "Invalid or expired authentication token"
	MsgInvalidAuthHeader = "Invalid authorization header"
	MsgForbidden         = "Insufficient permissions"
	MsgInternalError     = "An internal error occurred"
	MsgSessionNotFound   = "Session not found"
	MsgRateLimited       = "Too many requests. Please try again later."
)

// Error codes for client-side handling
const (
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeInvalidToken  = "INVALID_TOKEN"
	CodeForbidden     = "FORBIDDEN"
	CodeInternalError = "INTERNAL_ERROR"
	CodeNotFound      = "NOT_FOUND"
	CodeRateLimited   = "TOO_MANY_REQUESTS"
)

// RespondUnauthorized sends a 401 response with a generic message
func RespondUnauthorized(c *gin.Context, message string) {
	if message == "" {
		message = MsgUnauthorized
	}
	c.JSON(http.StatusUnauthorized, ErrorResponse{
		Error: message,
		Code:  CodeUnauthorized,
	})
}

// RespondInvalidToken sends a 401 response for invalid tokens
func RespondInvalidToken(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, ErrorResponse{
		Error: MsgInvalidToken,
		Code:  CodeInvalidToken,
	})
}

// RespondForbidden sends a 403 response with a generic message
func RespondForbidden(c *gin.Context) {
	c.JSON(http.StatusForbidden, ErrorResponse{
		Error: MsgForbidden,
		Code:  CodeForbidden,
	})
}

// RespondSessionNotFound sends a 401 response for missing refresh sessions
func RespondSessionNotFound(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, ErrorResponse{
		Error: MsgSessionNotFound,
		Code:  CodeNotFound,
	})
}

// RespondInternalError sends a 500 response with a generic message
func RespondInternalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error: MsgInternalError,
		Code:  CodeInternalError,
	})
}

// RespondRateLimited sends a 429 with a ceiling-rounded Retry-After header
// and the precise retry interval in the body. Aborts the request chain.
func RespondRateLimited(c *gin.Context, retryAfterMs int) {
	retryAfterSeconds := (retryAfterMs + 999) / 1000
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	c.Header(constants.HeaderRetryAfter, strconv.Itoa(retryAfterSeconds))

	c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
		Error:      MsgRateLimited,
		Code:       CodeRateLimited,
		RetryAfter: retryAfterMs,
	})
}
