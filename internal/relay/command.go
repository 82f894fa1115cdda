package relay

import "encoding/json"

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoin subscribes the client to a room under a presence key.
	CommandJoin CommandKind = iota
	// CommandTrack announces the client's presence in its room.
	CommandTrack
	// CommandUntrack withdraws the client's presence.
	CommandUntrack
	// CommandBroadcast emits an event to the room.
	CommandBroadcast
	// CommandLeave unsubscribes the client from its room.
	CommandLeave
)

// Command represents an action requested by a client.
type Command struct {
	Kind    CommandKind
	Room    string
	Key     string
	Token   string
	Self    bool
	Event   string
	Payload json.RawMessage
}
