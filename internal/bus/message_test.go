package bus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageStampsEnvelope(t *testing.T) {
	t.Parallel()

	msg, err := NewMessage(MessageLog, LogPayload{Level: "info", Message: "hello"})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, MessageLog, msg.Type)
	assert.False(t, msg.Timestamp.IsZero())

	payload, err := msg.Decode()
	require.NoError(t, err)
	assert.Equal(t, &LogPayload{Level: "info", Message: "hello"}, payload)
}

func TestDecodeResolvesPayloadByType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		msgType  MessageType
		payload  string
		expected interface{}
	}{
		{
			name:     "status",
			msgType:  MessageStatus,
			payload:  `{"phase":"running","queueDepth":3,"currentTest":"abc"}`,
			expected: &StatusPayload{Phase: "running", QueueDepth: 3, CurrentTest: "abc"},
		},
		{
			name:     "test update",
			msgType:  MessageTestUpdate,
			payload:  `{"testId":"t-1","status":"pass"}`,
			expected: &TestUpdatePayload{TestID: "t-1", Status: "pass"},
		},
		{
			name:     "screenshot",
			msgType:  MessageScreenshot,
			payload:  `{"screenshotId":"s-1","testId":"t-1"}`,
			expected: &ScreenshotPayload{ScreenshotID: "s-1", TestID: "t-1"},
		},
		{
			name:     "log",
			msgType:  MessageLog,
			payload:  `{"level":"warn","message":"slow page"}`,
			expected: &LogPayload{Level: "warn", Message: "slow page"},
		},
		{
			name:     "alert",
			msgType:  MessageAlert,
			payload:  `{"severity":"critical","message":"queue stalled"}`,
			expected: &AlertPayload{Severity: "critical", Message: "queue stalled"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg := &Message{Type: tt.msgType, Payload: json.RawMessage(tt.payload)}

			payload, err := msg.Decode()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, payload)
		})
	}
}

func TestDecodeRejectsBadMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  *Message
	}{
		{
			name: "unknown type",
			msg:  &Message{Type: "telemetry", Payload: json.RawMessage(`{}`)},
		},
		{
			name: "missing payload",
			msg:  &Message{Type: MessageStatus},
		},
		{
			name: "unknown payload field",
			msg:  &Message{Type: MessageLog, Payload: json.RawMessage(`{"level":"info","msg":"typo"}`)},
		},
		{
			name: "payload shape mismatch",
			msg:  &Message{Type: MessageStatus, Payload: json.RawMessage(`{"queueDepth":"three"}`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := tt.msg.Decode()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}

func TestParseInbound(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"type": "alert",
		"payload": {"severity": "major", "message": "layout drift"},
		"metadata": {"source": "ci", "correlationId": "run-7"}
	}`)

	msg, err := ParseInbound(raw)
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, MessageAlert, msg.Type)
	assert.False(t, msg.Timestamp.IsZero())

	require.NotNil(t, msg.Metadata)
	assert.Equal(t, "ci", msg.Metadata.Source)
	assert.Equal(t, "run-7", msg.Metadata.CorrelationID)
}

func TestParseInboundRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := ParseInbound([]byte(`{not json`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = ParseInbound([]byte(`{"type":"status"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}
