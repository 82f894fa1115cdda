package relay

import (
	"encoding/json"

	"github.com/vovakirdan/roomsync/internal/core"
)

// EventKind is a notification the hub emits to clients.
type EventKind int

const (
	// EventStatus acknowledges a join or leave.
	EventStatus EventKind = iota
	// EventBroadcast delivers a room broadcast.
	EventBroadcast
	// EventPresenceState delivers the full presence snapshot of a room.
	EventPresenceState
	// EventError notifies clients about a rejected command.
	EventError
)

// Event is sent to clients to describe what happened in the room.
type Event struct {
	Kind    EventKind
	Room    string
	Status  string
	Name    string
	Payload json.RawMessage
	Keys    []string
	Error   *core.CoreError
}
