// Package message defines the chat frame schema and its validation rules.
package message

import (
	"encoding/json"
	"time"
)

// FrameType represents the type of a chat frame
type FrameType string

const (
	TypeUserMessage      FrameType = "user_message"
	TypeResponseChunk    FrameType = "response_chunk"
	TypeResponseComplete FrameType = "response_complete"
	TypeError            FrameType = "error"
	TypePing             FrameType = "ping"
	TypePong             FrameType = "pong"
)

// ErrorInfo contains error details carried inside error-type frames
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"` // milliseconds
}

// Frame represents a chat frame on the wire
type Frame struct {
	Type      FrameType         `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	Content   string            `json:"content,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	MessageID string            `json:"message_id,omitempty"`
	Error     *ErrorInfo        `json:"error,omitempty"`
}

// MarshalJSON implements custom JSON marshaling for Frame.
// The timestamp is always encoded as RFC3339.
func (f *Frame) MarshalJSON() ([]byte, error) {
	type Alias Frame
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(f),
		Timestamp: f.Timestamp.Format(time.RFC3339),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for Frame
func (f *Frame) UnmarshalJSON(data []byte) error {
	type Alias Frame
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(f),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return err
		}
		f.Timestamp = t
	}

	return nil
}
