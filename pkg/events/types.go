// Package events defines connection lifecycle events and publisher interfaces.
package events

// Connection event kinds.
const (
	KindConnected    = "connected"
	KindDisconnected = "disconnected"
)

// ConnectionEvent is emitted when a peer joins or leaves the connection directory.
type ConnectionEvent struct {
	ConnectionID string            `json:"connectionId"`
	Kind         string            `json:"kind"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	Connections  int               `json:"connections"`
	Timestamp    string            `json:"timestamp"`
}
