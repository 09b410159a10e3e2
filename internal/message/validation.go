package message

import (
	"fmt"
	"strings"
	"time"
)

// Validation constants
const (
	MaxContentLength   = 4000 // Maximum content length in characters
	MaxMetadataLength  = 1000 // Maximum metadata value length
	MaxSessionIDLength = 128  // Maximum session ID length
	MaxMessageIDLength = 128  // Maximum message ID length
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Validate validates a frame according to the wire protocol.
// Unknown frame types are a validation error, not a silently-ignored case.
func (f *Frame) Validate() error {
	if err := f.validateRequiredFields(); err != nil {
		return err
	}

	if err := f.validateTypeSpecificFields(); err != nil {
		return err
	}

	if err := f.validateFieldLengths(); err != nil {
		return err
	}

	return nil
}

// validateRequiredFields validates that all required fields are present
func (f *Frame) validateRequiredFields() error {
	// Type is required
	if f.Type == "" {
		return &ValidationError{Field: "type", Message: "type is required"}
	}

	// Validate type is a known frame type
	if !isValidFrameType(f.Type) {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown frame type: %s", f.Type)}
	}

	// Timestamp is required and must not be zero
	if f.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "timestamp is required"}
	}

	// Timestamp should not be in the future (with 1 minute tolerance for clock skew)
	if f.Timestamp.After(time.Now().Add(1 * time.Minute)) {
		return &ValidationError{Field: "timestamp", Message: "timestamp cannot be in the future"}
	}

	return nil
}

// validateTypeSpecificFields validates required fields based on frame type
func (f *Frame) validateTypeSpecificFields() error {
	switch f.Type {
	case TypeUserMessage:
		if f.Content == "" {
			return &ValidationError{Field: "content", Message: "content is required for user_message"}
		}

	case TypeResponseChunk:
		if f.Content == "" {
			return &ValidationError{Field: "content", Message: "content is required for response_chunk"}
		}

	case TypeError:
		if f.Error == nil {
			return &ValidationError{Field: "error", Message: "error is required for error frame type"}
		}
		if f.Error.Code == "" {
			return &ValidationError{Field: "error.code", Message: "error code is required"}
		}
		if f.Error.Message == "" {
			return &ValidationError{Field: "error.message", Message: "error message is required"}
		}

	case TypeResponseComplete, TypePing, TypePong:
		// No additional required fields
	}

	return nil
}

// validateFieldLengths validates that field values don't exceed maximum lengths
func (f *Frame) validateFieldLengths() error {
	if len(f.SessionID) > MaxSessionIDLength {
		return &ValidationError{
			Field:   "session_id",
			Message: fmt.Sprintf("session_id exceeds maximum length of %d characters", MaxSessionIDLength),
		}
	}

	if len(f.MessageID) > MaxMessageIDLength {
		return &ValidationError{
			Field:   "message_id",
			Message: fmt.Sprintf("message_id exceeds maximum length of %d characters", MaxMessageIDLength),
		}
	}

	if len(f.Content) > MaxContentLength {
		return &ValidationError{
			Field:   "content",
			Message: fmt.Sprintf("content exceeds maximum length of %d characters", MaxContentLength),
		}
	}

	// Validate metadata lengths
	for key, value := range f.Metadata {
		if len(value) > MaxMetadataLength {
			return &ValidationError{
				Field:   fmt.Sprintf("metadata.%s", key),
				Message: fmt.Sprintf("metadata value exceeds maximum length of %d characters", MaxMetadataLength),
			}
		}
	}

	return nil
}

// Sanitize sanitizes client input before it reaches business processing
func (f *Frame) Sanitize() {
	f.Content = sanitizeString(f.Content)
	f.SessionID = sanitizeString(f.SessionID)
	f.MessageID = sanitizeString(f.MessageID)

	if f.Metadata != nil {
		sanitized := make(map[string]string)
		for key, value := range f.Metadata {
			sanitized[sanitizeString(key)] = sanitizeString(value)
		}
		f.Metadata = sanitized
	}

	if f.Error != nil {
		f.Error.Code = sanitizeString(f.Error.Code)
		f.Error.Message = sanitizeString(f.Error.Message)
	}
}

// sanitizeString removes null bytes and trims whitespace.
// HTML escaping is NOT applied here — it belongs at render time only.
func sanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.TrimSpace(s)
	return s
}

// isValidFrameType checks if the frame type is valid
func isValidFrameType(t FrameType) bool {
	switch t {
	case TypeUserMessage, TypeResponseChunk, TypeResponseComplete,
		TypeError, TypePing, TypePong:
		return true
	default:
		return false
	}
}
