// Package realtime implements the websocket channel layer: connections,
// named rooms, and event emission to rooms, users and everyone.
package realtime

import (
	"encoding/json"
)

// Event names on the wire. Clients depend on these exact strings.
const (
	// client -> server
	EventSetup     = "setup"
	EventJoinChat  = "join chat"
	EventLeaveChat = "leave chat"

	// server -> client
	EventConnected        = "connected"
	EventMessageReceived  = "message received"
	EventUserStatusUpdate = "user status update"
	EventChatUpdated      = "chat updated"
	EventChatDeleted      = "chat deleted"

	// both directions
	EventTyping      = "typing"
	EventStopTyping  = "stop typing"
	EventMessageRead = "message read"
)

// Envelope is the frame exchanged over the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds the wire frame for an event.
func Encode(event string, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// Decode parses a wire frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(frame, &env)
	return env, err
}
