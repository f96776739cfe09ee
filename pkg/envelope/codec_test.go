package envelope

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewEncoder_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	in := struct {
		EventType string `json:"eventType"`
		RequestID string `json:"requestId"`
	}{"Ping", "r1"}

	if err := NewEncoder(&buf).Encode(in); err != nil {
		t.Fatalf("%s - Encode failed: %v", envelopeTestPrefix, err)
	}
	if got, want := strings.TrimSpace(buf.String()), `{"eventType":"Ping","requestId":"r1"}`; got != want {
		t.Errorf("%s - encoded %s, want %s", envelopeTestPrefix, got, want)
	}
}
