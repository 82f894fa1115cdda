package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeJoin      = "join"
	InboundTypeTrack     = "track"
	InboundTypeUntrack   = "untrack"
	InboundTypeBroadcast = "broadcast"
	InboundTypeLeave     = "leave"

	OutboundTypeStatus        = "status"
	OutboundTypeBroadcast     = "broadcast"
	OutboundTypePresenceState = "presence_state"
	OutboundTypeError         = "error"

	StatusSubscribed = "subscribed"
	StatusLeft       = "left"
)

// JoinData subscribes the connection to a room under a presence key.
type JoinData struct {
	Room     string `json:"room"`
	Key      string `json:"key"`
	Token    string `json:"token,omitempty"`
	Self     bool   `json:"self,omitempty"`
	Protocol int    `json:"protocol,omitempty"`
}

// TrackData announces presence with an opaque payload.
type TrackData struct {
	Payload json.RawMessage `json:"payload,omitempty"`
}

// BroadcastData is an event emitted to every member of the room.
type BroadcastData struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// StatusData acknowledges subscription changes.
type StatusData struct {
	Room   string `json:"room"`
	Status string `json:"status"`
}

// PresenceStateData is the full membership snapshot of a room.
type PresenceStateData struct {
	Room string   `json:"room"`
	Keys []string `json:"keys"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// OutboundFrame is the client-side view of an outbound envelope, with data
// left raw for decoding by type.
type OutboundFrame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}
