package envelope

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

const envelopeTestPrefix = "envelope:envelope_test"

type echoPayload struct {
	Message string   `json:"message"`
	Count   int      `json:"count,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantType  string
		wantReqID string
		wantErr   bool
	}{
		{name: "type and request id", data: `{"eventType":"Echo","requestId":"r1","message":"hi"}`, wantType: "Echo", wantReqID: "r1"},
		{name: "no request id", data: `{"eventType":"Echo"}`, wantType: "Echo"},
		{name: "null request id", data: `{"eventType":"Echo","requestId":null}`, wantType: "Echo"},
		{name: "missing event type", data: `{"message":"hi"}`, wantErr: true},
		{name: "empty event type", data: `{"eventType":"  "}`, wantErr: true},
		{name: "numeric event type", data: `{"eventType":5}`, wantErr: true},
		{name: "numeric request id", data: `{"eventType":"Echo","requestId":5}`, wantErr: true},
		{name: "array", data: `[1,2,3]`, wantErr: true},
		{name: "null", data: `null`, wantErr: true},
		{name: "invalid json", data: `{eventType:`, wantErr: true},
		{name: "empty", data: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("%s - expected error but got nil", envelopeTestPrefix)
				}
				if !errors.Is(err, ErrMalformed) {
					t.Errorf("%s - expected ErrMalformed, got %v", envelopeTestPrefix, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", envelopeTestPrefix, err)
			}
			if env.EventType != tt.wantType {
				t.Errorf("%s - EventType = %q, want %q", envelopeTestPrefix, env.EventType, tt.wantType)
			}
			if env.RequestID != tt.wantReqID {
				t.Errorf("%s - RequestID = %q, want %q", envelopeTestPrefix, env.RequestID, tt.wantReqID)
			}
			if string(env.Raw) != tt.data {
				t.Errorf("%s - Raw not preserved", envelopeTestPrefix)
			}
		})
	}
}

func TestEncode_FlattensPayload(t *testing.T) {
	data, err := Encode("EchoReply", "r1", &echoPayload{Message: "hi"})
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", envelopeTestPrefix, err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("%s - output is not JSON: %v", envelopeTestPrefix, err)
	}
	want := map[string]any{"eventType": "EchoReply", "requestId": "r1", "message": "hi"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("%s - Encode() = %v, want %v", envelopeTestPrefix, got, want)
	}
}

func TestEncode_OmitsEmptyRequestID(t *testing.T) {
	data, err := Encode("Ping", "", nil)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", envelopeTestPrefix, err)
	}
	if string(data) != `{"eventType":"Ping"}` {
		t.Errorf("%s - Encode() = %s", envelopeTestPrefix, data)
	}
}

func TestEncode_Errors(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		payload   any
		target    error
	}{
		{name: "empty tag", eventType: "", payload: nil, target: ErrMalformed},
		{name: "scalar payload", eventType: "X", payload: 42, target: ErrPayloadNotObject},
		{name: "slice payload", eventType: "X", payload: []int{1}, target: ErrPayloadNotObject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.eventType, "", tt.payload)
			if !errors.Is(err, tt.target) {
				t.Errorf("%s - expected %v, got %v", envelopeTestPrefix, tt.target, err)
			}
		})
	}

	if _, err := Encode("X", "", make(chan int)); err == nil {
		t.Errorf("%s - expected error for unserializable payload", envelopeTestPrefix)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := echoPayload{Message: "hello", Count: 3, Tags: []string{"a", "b"}}

	data, err := Encode("Echo", "r-42", original)
	if err != nil {
		t.Fatalf("%s - encode failed: %v", envelopeTestPrefix, err)
	}

	env, err := Decode(data)
	if err != nil {
		t.Fatalf("%s - decode envelope failed: %v", envelopeTestPrefix, err)
	}
	if env.EventType != "Echo" || env.RequestID != "r-42" {
		t.Errorf("%s - envelope = %+v", envelopeTestPrefix, env)
	}

	var decoded echoPayload
	if err := DecodePayload(env.Raw, &decoded); err != nil {
		t.Fatalf("%s - decode payload failed: %v", envelopeTestPrefix, err)
	}
	if !reflect.DeepEqual(decoded, original) {
		t.Errorf("%s - round trip = %+v, want %+v", envelopeTestPrefix, decoded, original)
	}
}

func TestDecodePayload_ShapeMismatch(t *testing.T) {
	var p echoPayload
	if err := DecodePayload([]byte(`{"eventType":"Echo","message":5}`), &p); err == nil {
		t.Errorf("%s - expected error for mismatched field type", envelopeTestPrefix)
	}
}
