package handlers

import (
	"errors"
	"strings"
	"time"
)

// MaxMessageLength bounds Echo and Broadcast text.
const MaxMessageLength = 4096

// Echo asks the server to send Message back as an EchoReply.
type Echo struct {
	Message string `json:"message"`
}

func (e *Echo) Validate() error {
	if len(e.Message) > MaxMessageLength {
		return errors.New("message too long")
	}
	return nil
}

// EchoReply answers Echo.
type EchoReply struct {
	Message string `json:"message"`
}

// Broadcast asks the server to relay Message to every connected peer.
type Broadcast struct {
	Message     string `json:"message"`
	IncludeSelf bool   `json:"includeSelf,omitempty"`
}

func (b *Broadcast) Validate() error {
	if strings.TrimSpace(b.Message) == "" {
		return errors.New("message is required")
	}
	if len(b.Message) > MaxMessageLength {
		return errors.New("message too long")
	}
	return nil
}

// BroadcastMessage is what the other peers receive.
type BroadcastMessage struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// BroadcastAck tells the sender how many peers the message reached.
type BroadcastAck struct {
	Delivered int `json:"delivered"`
}

// Ping asks for a Pong.
type Ping struct{}

// Pong carries the server's clock and protocol version.
type Pong struct {
	ServerTime      time.Time `json:"serverTime"`
	ProtocolVersion string    `json:"protocolVersion"`
	ConnectionID    string    `json:"connectionId"`
}

// ListConnections asks for the ids of connected peers.
type ListConnections struct{}

// ConnectionList answers ListConnections.
type ConnectionList struct {
	Connections []string `json:"connections"`
}
