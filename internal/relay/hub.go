// Package relay is the room server behind the WebSocket transport. A single
// hub goroutine owns every room, so commands from all connections are applied
// one at a time.
package relay

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomsync/internal/core"
	"github.com/vovakirdan/roomsync/internal/identity"
	"github.com/vovakirdan/roomsync/internal/proto"
)

// ErrHubStopped is returned by queries made after the hub exited.
var ErrHubStopped = errors.New("hub stopped")

type clientCommand struct {
	client *Client
	cmd    *Command
}

type presenceQuery struct {
	room  string
	reply chan []Member
}

// Hub routes commands from clients to rooms.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	commands   chan clientCommand
	queries    chan presenceQuery
	done       chan struct{}

	rooms   map[string]*Room
	clients map[*Client]struct{}
	auth    *identity.TokenConfig
	log     *zerolog.Logger
}

// NewHub creates a hub. With a non-nil auth config every join must carry a
// token whose subject equals the presence key.
func NewHub(auth *identity.TokenConfig, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan clientCommand, 64),
		queries:    make(chan presenceQuery),
		done:       make(chan struct{}),
		rooms:      make(map[string]*Room),
		clients:    make(map[*Client]struct{}),
		auth:       auth,
		log:        logger,
	}
}

// Run processes hub traffic until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.log.Debug().Str("client_id", c.ID).Msg("client registered")
		case c := <-h.unregister:
			h.drop(c)
		case cc := <-h.commands:
			if _, ok := h.clients[cc.client]; !ok {
				continue
			}
			h.handle(cc.client, cc.cmd)
		case q := <-h.queries:
			var members []Member
			if r, ok := h.rooms[q.room]; ok {
				members = r.Members()
			}
			q.reply <- members
		}
	}
}

// RegisterClient attaches c to the hub and starts forwarding its commands.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.pumped)
		return
	}
	go h.pump(c)
}

// UnregisterClient detaches c, leaving its room and withdrawing its presence.
// Commands already queued by c are applied first.
func (h *Hub) UnregisterClient(c *Client) {
	c.stop()
	select {
	case <-c.pumped:
	case <-h.done:
		return
	}
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Presence returns the tracked members of room in tracking order.
func (h *Hub) Presence(ctx context.Context, room string) ([]Member, error) {
	q := presenceQuery{room: room, reply: make(chan []Member, 1)}
	select {
	case h.queries <- q:
	case <-h.done:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case members := <-q.reply:
		return members, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) pump(c *Client) {
	defer close(c.pumped)
	for {
		select {
		case cmd := <-c.Commands:
			if !h.forward(c, cmd) {
				return
			}
		case <-c.done:
			h.drain(c)
			return
		case <-h.done:
			return
		}
	}
}

// drain forwards commands the client queued before it stopped.
func (h *Hub) drain(c *Client) {
	n := 0
	for {
		select {
		case cmd := <-c.Commands:
			if !h.forward(c, cmd) {
				return
			}
			n++
		default:
			if n > 0 {
				h.log.Debug().Str("client_id", c.ID).Int("commands", n).Msg("drained queued commands")
			}
			return
		}
	}
}

func (h *Hub) forward(c *Client, cmd *Command) bool {
	if cmd == nil {
		return true
	}
	select {
	case h.commands <- clientCommand{client: c, cmd: cmd}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) handle(c *Client, cmd *Command) {
	switch cmd.Kind {
	case CommandJoin:
		h.join(c, cmd)
	case CommandTrack:
		r := h.roomOf(c)
		if r == nil {
			return
		}
		c.payload = cmd.Payload
		c.tracked = true
		r.Track(c)
		h.syncPresence(r)
	case CommandUntrack:
		r := h.roomOf(c)
		if r == nil {
			return
		}
		c.tracked = false
		c.payload = nil
		if r.Untrack(c) {
			h.syncPresence(r)
		}
	case CommandBroadcast:
		r := h.roomOf(c)
		if r == nil {
			return
		}
		ev := &Event{Kind: EventBroadcast, Room: r.Name, Name: cmd.Event, Payload: cmd.Payload}
		skip := c
		if c.self {
			skip = nil
		}
		r.Broadcast(ev, skip, h.log)
	case CommandLeave:
		r := h.roomOf(c)
		if r == nil {
			return
		}
		h.leave(c, r)
		deliver(c, &Event{Kind: EventStatus, Room: r.Name, Status: proto.StatusLeft}, h.log)
	default:
		h.fail(c, core.ErrCodeBadRequest, "unknown command")
	}
}

func (h *Hub) join(c *Client, cmd *Command) {
	if c.room != "" {
		h.fail(c, core.ErrCodeAlreadyJoined, "already joined "+c.room)
		return
	}
	if h.auth != nil {
		id, err := identity.Parse(h.auth, cmd.Token)
		if err != nil {
			h.log.Debug().Err(err).Str("client_id", c.ID).Msg("join rejected")
			h.fail(c, core.ErrCodeUnauthorized, "invalid token")
			return
		}
		if id.ID != cmd.Key {
			h.fail(c, core.ErrCodeUnauthorized, "presence key does not match token subject")
			return
		}
	}

	r, ok := h.rooms[cmd.Room]
	if !ok {
		r = NewRoom(cmd.Room)
		h.rooms[cmd.Room] = r
	}
	r.AddClient(c)
	c.room = cmd.Room
	c.key = cmd.Key
	c.self = cmd.Self

	h.log.Info().Str("client_id", c.ID).Str("room", r.Name).Str("presence_key", c.key).Msg("client joined")
	deliver(c, &Event{Kind: EventStatus, Room: r.Name, Status: proto.StatusSubscribed}, h.log)
	deliver(c, &Event{Kind: EventPresenceState, Room: r.Name, Keys: r.Keys()}, h.log)
}

func (h *Hub) leave(c *Client, r *Room) {
	wasTracked := c.tracked
	r.RemoveClient(c)
	c.room = ""
	c.key = ""
	c.tracked = false
	c.payload = nil
	c.self = false
	if r.Empty() {
		delete(h.rooms, r.Name)
	} else if wasTracked {
		h.syncPresence(r)
	}
	h.log.Info().Str("client_id", c.ID).Str("room", r.Name).Msg("client left")
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	if r, ok := h.rooms[c.room]; ok && c.room != "" {
		h.leave(c, r)
	}
	delete(h.clients, c)
	close(c.Events)
	h.log.Debug().Str("client_id", c.ID).Msg("client unregistered")
}

func (h *Hub) roomOf(c *Client) *Room {
	if c.room == "" {
		h.fail(c, core.ErrCodeNotInRoom, "join a room first")
		return nil
	}
	return h.rooms[c.room]
}

func (h *Hub) syncPresence(r *Room) {
	r.Broadcast(&Event{Kind: EventPresenceState, Room: r.Name, Keys: r.Keys()}, nil, h.log)
}

func (h *Hub) fail(c *Client, code, msg string) {
	deliver(c, &Event{Kind: EventError, Error: core.NewError(code, msg)}, h.log)
}
