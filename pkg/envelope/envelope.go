// Package envelope defines the wire shape shared by every message: a type tag,
// an optional correlation id and the payload fields flattened into the same
// JSON object.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const logPrefix = "envelope:envelope"

// Wire field names.
const (
	FieldEventType = "eventType"
	FieldRequestID = "requestId"
)

var (
	// ErrMalformed is returned when a message is not an object carrying a non-empty eventType.
	ErrMalformed = errors.New("malformed envelope")
	// ErrPayloadNotObject is returned when a payload does not serialize to a JSON object.
	ErrPayloadNotObject = errors.New("payload must encode to a JSON object")
)

// Envelope is the generic view of an inbound message.
type Envelope struct {
	EventType string
	RequestID string
	// Raw is the complete flattened object, payload fields included.
	Raw []byte
}

// Decode reads the type tag and correlation id of a raw message.
func Decode(data []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%s - %w: %v", logPrefix, ErrMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%s - %w: not an object", logPrefix, ErrMalformed)
	}

	rawType, ok := fields[FieldEventType]
	if !ok {
		return nil, fmt.Errorf("%s - %w: missing %s", logPrefix, ErrMalformed, FieldEventType)
	}
	var eventType string
	if err := Unmarshal(rawType, &eventType); err != nil {
		return nil, fmt.Errorf("%s - %w: %s must be a string", logPrefix, ErrMalformed, FieldEventType)
	}
	if strings.TrimSpace(eventType) == "" {
		return nil, fmt.Errorf("%s - %w: empty %s", logPrefix, ErrMalformed, FieldEventType)
	}

	env := &Envelope{EventType: eventType, Raw: data}
	if rawID, ok := fields[FieldRequestID]; ok && string(rawID) != "null" {
		if err := Unmarshal(rawID, &env.RequestID); err != nil {
			return nil, fmt.Errorf("%s - %w: %s must be a string", logPrefix, ErrMalformed, FieldRequestID)
		}
	}
	return env, nil
}

// Encode flattens payload into an object tagged with eventType and, when
// requestID is non-empty, requestId. A nil payload produces a bare envelope.
func Encode(eventType, requestID string, payload any) ([]byte, error) {
	if strings.TrimSpace(eventType) == "" {
		return nil, fmt.Errorf("%s - %w: empty %s", logPrefix, ErrMalformed, FieldEventType)
	}

	fields := make(map[string]json.RawMessage)
	if payload != nil {
		data, err := Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to encode payload: %w", logPrefix, err)
		}
		if string(data) != "null" {
			if err := Unmarshal(data, &fields); err != nil {
				return nil, fmt.Errorf("%s - %w: %T", logPrefix, ErrPayloadNotObject, payload)
			}
		}
	}

	tag, _ := Marshal(eventType)
	fields[FieldEventType] = tag
	if requestID != "" {
		id, _ := Marshal(requestID)
		fields[FieldRequestID] = id
	}
	return Marshal(fields)
}

// DecodePayload decodes the flattened object into a typed payload. Envelope
// fields the payload type does not declare are ignored.
func DecodePayload(raw []byte, v any) error {
	return Unmarshal(raw, v)
}
