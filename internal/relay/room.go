package relay

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

// Member is one tracked presence in a room.
type Member struct {
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Room groups clients subscribed to the same channel.
type Room struct {
	Name    string
	clients map[*Client]struct{}
	tracked []*Client
}

// NewRoom constructs a room with no clients.
func NewRoom(name string) *Room {
	return &Room{
		Name:    name,
		clients: make(map[*Client]struct{}),
	}
}

// AddClient inserts a client into the room. Returns true if newly added.
func (r *Room) AddClient(c *Client) bool {
	if _, exists := r.clients[c]; exists {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

// RemoveClient deletes a client and its presence. Returns true if removed.
func (r *Room) RemoveClient(c *Client) bool {
	if _, exists := r.clients[c]; !exists {
		return false
	}
	delete(r.clients, c)
	r.Untrack(c)
	return true
}

// Track adds the client to the presence list. Returns true if newly tracked.
func (r *Room) Track(c *Client) bool {
	for _, t := range r.tracked {
		if t == c {
			return false
		}
	}
	r.tracked = append(r.tracked, c)
	return true
}

// Untrack removes the client from the presence list. Returns true if it was tracked.
func (r *Room) Untrack(c *Client) bool {
	for i, t := range r.tracked {
		if t == c {
			r.tracked = append(r.tracked[:i], r.tracked[i+1:]...)
			return true
		}
	}
	return false
}

// Keys returns the presence keys in tracking order.
func (r *Room) Keys() []string {
	keys := make([]string, 0, len(r.tracked))
	for _, c := range r.tracked {
		keys = append(keys, c.key)
	}
	return keys
}

// Members returns the tracked presences with their announced payloads.
func (r *Room) Members() []Member {
	members := make([]Member, 0, len(r.tracked))
	for _, c := range r.tracked {
		members = append(members, Member{Key: c.key, Payload: c.payload})
	}
	return members
}

// Broadcast sends an event to all clients in the room except skip.
func (r *Room) Broadcast(event *Event, skip *Client, log *zerolog.Logger) {
	for client := range r.clients {
		if client == skip {
			continue
		}
		deliver(client, event, log)
	}
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.clients) == 0
}

func deliver(c *Client, event *Event, log *zerolog.Logger) {
	select {
	case c.Events <- event:
	default:
		// Drop if slow consumer.
		log.Warn().Str("client_id", c.ID).Int("kind", int(event.Kind)).Msg("client queue full, event dropped")
	}
}
