// Package bus carries typed broadcast messages between the engine and
// connected subscribers.
package bus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType discriminates the payload shape of a Message.
type MessageType string

const (
	MessageStatus     MessageType = "status"
	MessageTestUpdate MessageType = "test_update"
	MessageScreenshot MessageType = "screenshot"
	MessageLog        MessageType = "log"
	MessageAlert      MessageType = "alert"
)

// ErrInvalidMessage is the parent of every message validation failure,
// so boundary code can map the whole family to a 400-class response
// with one errors.Is.
var ErrInvalidMessage = errors.New("invalid message")

var (
	errUnknownType    = fmt.Errorf("%w: unknown message type", ErrInvalidMessage)
	errMissingPayload = fmt.Errorf("%w: payload is required", ErrInvalidMessage)
	errBadPayload     = fmt.Errorf("%w: payload does not match type", ErrInvalidMessage)
)

// Metadata carries optional routing hints attached by the sender.
type Metadata struct {
	Source        string `json:"source,omitempty"`
	Priority      string `json:"priority,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// Message is the broadcast envelope. Payload is kept raw in the
// envelope; Decode resolves it into the struct its type names.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  *Metadata       `json:"metadata,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// StatusPayload reports the engine's current phase and queue depth.
type StatusPayload struct {
	Phase       string `json:"phase"`
	QueueDepth  int    `json:"queueDepth"`
	CurrentTest string `json:"currentTest,omitempty"`
}

// TestUpdatePayload reports a lifecycle change for a single test.
type TestUpdatePayload struct {
	TestID string `json:"testId"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ScreenshotPayload announces a newly stored screenshot.
type ScreenshotPayload struct {
	ScreenshotID string `json:"screenshotId"`
	TestID       string `json:"testId,omitempty"`
}

// LogPayload relays a log line to subscribers.
type LogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// AlertPayload flags a condition that needs operator attention.
type AlertPayload struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// NewMessage wraps a payload in a stamped envelope.
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", msgType, err)
	}

	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// payloadFor returns a fresh payload struct for the given type.
func payloadFor(msgType MessageType) (interface{}, bool) {
	switch msgType {
	case MessageStatus:
		return &StatusPayload{}, true
	case MessageTestUpdate:
		return &TestUpdatePayload{}, true
	case MessageScreenshot:
		return &ScreenshotPayload{}, true
	case MessageLog:
		return &LogPayload{}, true
	case MessageAlert:
		return &AlertPayload{}, true
	default:
		return nil, false
	}
}

// Validate checks the envelope without touching the payload bytes.
func (m *Message) Validate() error {
	if _, ok := payloadFor(m.Type); !ok {
		return fmt.Errorf("%w: %q", errUnknownType, m.Type)
	}

	if len(m.Payload) == 0 {
		return errMissingPayload
	}

	return nil
}

// Decode validates the envelope and resolves the raw payload into the
// struct its type names. Unknown payload fields are rejected so a
// mistyped field fails loudly instead of silently dropping data.
func (m *Message) Decode() (interface{}, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	payload, _ := payloadFor(m.Type)

	dec := json.NewDecoder(bytes.NewReader(m.Payload))
	dec.DisallowUnknownFields()

	if err := dec.Decode(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadPayload, err)
	}

	return payload, nil
}

// ParseInbound builds a stamped Message from an externally submitted
// envelope, accepting only type, payload and metadata from the caller.
func ParseInbound(data []byte) (*Message, error) {
	var inbound struct {
		Type     MessageType     `json:"type"`
		Payload  json.RawMessage `json:"payload"`
		Metadata *Metadata       `json:"metadata"`
	}

	if err := json.Unmarshal(data, &inbound); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	msg := &Message{
		ID:        uuid.New().String(),
		Type:      inbound.Type,
		Payload:   inbound.Payload,
		Metadata:  inbound.Metadata,
		Timestamp: time.Now().UTC(),
	}

	if _, err := msg.Decode(); err != nil {
		return nil, err
	}

	return msg, nil
}
