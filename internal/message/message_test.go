package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_MarshalRFC3339Timestamp(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	frame := &Frame{
		Type:      TypeUserMessage,
		SessionID: "s-1",
		Content:   "hello",
		Timestamp: ts,
	}

	data, err := json.Marshal(frame)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "2026-03-14T09:26:53Z", raw["timestamp"])
	assert.Equal(t, "user_message", raw["type"])
}

func TestFrame_UnmarshalRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	original := &Frame{
		Type:      TypeResponseChunk,
		SessionID: "s-1",
		MessageID: "m-1",
		Content:   "chunk text",
		Metadata:  map[string]string{"chunk_index": "0"},
		Timestamp: ts,
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Frame
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original.Type, decoded.Type)
	assert.Equal(t, original.Content, decoded.Content)
	assert.Equal(t, original.Metadata, decoded.Metadata)
	assert.True(t, original.Timestamp.Equal(decoded.Timestamp))
}

func TestFrame_UnmarshalRejectsBadTimestamp(t *testing.T) {
	var frame Frame
	err := json.Unmarshal([]byte(`{"type":"ping","timestamp":"yesterday"}`), &frame)
	assert.Error(t, err)
}

func TestValidate_RequiredFields(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		frame   Frame
		wantErr bool
	}{
		{"valid user message", Frame{Type: TypeUserMessage, Content: "hi", Timestamp: now}, false},
		{"missing type", Frame{Content: "hi", Timestamp: now}, true},
		{"unknown type", Frame{Type: "telemetry", Timestamp: now}, true},
		{"missing timestamp", Frame{Type: TypePing}, true},
		{"far-future timestamp", Frame{Type: TypePing, Timestamp: now.Add(10 * time.Minute)}, true},
		{"near-future timestamp within tolerance", Frame{Type: TypePing, Timestamp: now.Add(30 * time.Second)}, false},
		{"user message without content", Frame{Type: TypeUserMessage, Timestamp: now}, true},
		{"response chunk without content", Frame{Type: TypeResponseChunk, Timestamp: now}, true},
		{"ping needs nothing extra", Frame{Type: TypePing, Timestamp: now}, false},
		{"pong needs nothing extra", Frame{Type: TypePong, Timestamp: now}, false},
		{"response complete needs nothing extra", Frame{Type: TypeResponseComplete, Timestamp: now}, false},
		{"error without payload", Frame{Type: TypeError, Timestamp: now}, true},
		{"error without code", Frame{Type: TypeError, Error: &ErrorInfo{Message: "x"}, Timestamp: now}, true},
		{"error complete", Frame{Type: TypeError, Error: &ErrorInfo{Code: "X", Message: "x"}, Timestamp: now}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_FieldLengths(t *testing.T) {
	now := time.Now()

	long := func(n int) string {
		b := make([]byte, n)
		for i := range b {
			b[i] = 'a'
		}
		return string(b)
	}

	frame := Frame{Type: TypeUserMessage, Content: long(MaxContentLength + 1), Timestamp: now}
	assert.Error(t, frame.Validate())

	frame = Frame{Type: TypeUserMessage, Content: "hi", SessionID: long(MaxSessionIDLength + 1), Timestamp: now}
	assert.Error(t, frame.Validate())

	frame = Frame{Type: TypeUserMessage, Content: "hi", MessageID: long(MaxMessageIDLength + 1), Timestamp: now}
	assert.Error(t, frame.Validate())

	frame = Frame{
		Type:      TypeUserMessage,
		Content:   "hi",
		Metadata:  map[string]string{"k": long(MaxMetadataLength + 1)},
		Timestamp: now,
	}
	assert.Error(t, frame.Validate())
}

func TestValidate_ErrorField(t *testing.T) {
	var vErr *ValidationError
	frame := Frame{Type: "telemetry", Timestamp: time.Now()}
	err := frame.Validate()
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "type", vErr.Field)
}

func TestSanitize(t *testing.T) {
	frame := Frame{
		Type:      TypeUserMessage,
		Content:   "  hello\x00world  ",
		SessionID: "\x00s-1",
		Metadata:  map[string]string{" key ": " value\x00 "},
		Error:     &ErrorInfo{Code: " X\x00 ", Message: " boom "},
	}

	frame.Sanitize()

	assert.Equal(t, "helloworld", frame.Content)
	assert.Equal(t, "s-1", frame.SessionID)
	assert.Equal(t, "value", frame.Metadata["key"])
	assert.Equal(t, "X", frame.Error.Code)
	assert.Equal(t, "boom", frame.Error.Message)
}

func TestSanitize_DoesNotEscapeHTML(t *testing.T) {
	frame := Frame{Type: TypeUserMessage, Content: "<b>bold</b> & more"}
	frame.Sanitize()

	// Escaping belongs at render time, not ingestion
	assert.Equal(t, "<b>bold</b> & more", frame.Content)
}
