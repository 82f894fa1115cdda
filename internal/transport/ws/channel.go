// Package ws is the transport client for the relay's WebSocket protocol.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomsync/internal/proto"
	"github.com/vovakirdan/roomsync/internal/transport"
)

const leaveTimeout = time.Second

// Dialer opens relay channels.
type Dialer struct {
	// URL is the relay WebSocket endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// Token, when set, supplies the bearer token sent with every join.
	Token func() string
	// Self asks the relay to echo broadcasts back to their sender.
	Self   bool
	Logger *zerolog.Logger
}

// Open returns an unconnected channel. The connection is made on Subscribe.
func (d *Dialer) Open(room, presenceKey string) (transport.Channel, error) {
	if d.URL == "" {
		return nil, fmt.Errorf("open channel: relay url is required")
	}
	if room == "" || presenceKey == "" {
		return nil, fmt.Errorf("open channel: room and presence key are required")
	}
	logger := zerolog.Nop()
	if d.Logger != nil {
		logger = *d.Logger
	}
	return &Channel{
		dialer: d,
		room:   room,
		key:    presenceKey,
		log:    logger.With().Str("room", room).Str("presence_key", presenceKey).Logger(),
	}, nil
}

// Channel is a relay connection joined to one room.
type Channel struct {
	dialer    *Dialer
	room      string
	key       string
	log       zerolog.Logger
	listeners transport.Listeners

	mu         sync.Mutex
	conn       *websocket.Conn
	status     transport.StatusFunc
	subscribed bool
	closed     bool
	keys       []string
	cancel     context.CancelFunc
}

// OnBroadcast registers a handler for event.
func (c *Channel) OnBroadcast(event string, handler func(json.RawMessage)) func() {
	return c.listeners.AddBroadcast(event, handler)
}

// OnPresenceSync registers a presence sync handler.
func (c *Channel) OnPresenceSync(handler func()) func() {
	return c.listeners.AddPresence(handler)
}

// Subscribe dials the relay and joins the room. The join acknowledgement
// arrives later through fn.
func (c *Channel) Subscribe(ctx context.Context, fn transport.StatusFunc) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return transport.ErrAlreadyJoined
	}
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, c.dialer.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", transport.ErrSubscribeFailed, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "closed")
		return transport.ErrClosed
	}
	readCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.status = fn
	c.cancel = cancel
	c.mu.Unlock()

	go c.readLoop(readCtx, conn)

	join := proto.JoinData{
		Room:     c.room,
		Key:      c.key,
		Self:     c.dialer.Self,
		Protocol: proto.ProtocolVersion,
	}
	if c.dialer.Token != nil {
		join.Token = c.dialer.Token()
	}
	if err := c.write(ctx, proto.InboundTypeJoin, join); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrSubscribeFailed, err)
	}
	return nil
}

// Track announces presence in the joined room.
func (c *Channel) Track(ctx context.Context, payload json.RawMessage) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := c.write(ctx, proto.InboundTypeTrack, proto.TrackData{Payload: payload}); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrTrackFailed, err)
	}
	return nil
}

// Send broadcasts an event to the room.
func (c *Channel) Send(ctx context.Context, b transport.Broadcast) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.write(ctx, proto.InboundTypeBroadcast, proto.BroadcastData{Event: b.Event, Payload: b.Payload})
}

// PresenceState returns the last presence snapshot pushed by the relay.
func (c *Channel) PresenceState() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Unsubscribe leaves the room and closes the connection. Listeners are
// dropped before it returns; repeated calls are no-ops.
func (c *Channel) Unsubscribe() error {
	c.listeners.Clear()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn, cancel := c.conn, c.cancel
	c.status = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	ctx, done := context.WithTimeout(context.Background(), leaveTimeout)
	defer done()
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeLeave}); err != nil {
		c.log.Debug().Err(err).Msg("send leave")
	}
	err := conn.Close(websocket.StatusNormalClosure, "leave")
	cancel()
	if err != nil && websocket.CloseStatus(err) == -1 {
		c.log.Debug().Err(err).Msg("close connection")
	}
	return nil
}

func (c *Channel) ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	if !c.subscribed {
		return transport.ErrNotSubscribed
	}
	return nil
}

func (c *Channel) write(ctx context.Context, typ string, data any) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	if conn == nil {
		return transport.ErrNotSubscribed
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	return wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: raw})
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var frame proto.OutboundFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			c.lost(err)
			return
		}
		c.dispatch(frame)
	}
}

func (c *Channel) dispatch(frame proto.OutboundFrame) {
	switch frame.Type {
	case proto.OutboundTypeStatus:
		var st proto.StatusData
		if err := json.Unmarshal(frame.Data, &st); err != nil {
			c.log.Warn().Err(err).Msg("bad status frame")
			return
		}
		if st.Status != proto.StatusSubscribed {
			return
		}
		c.mu.Lock()
		if c.closed || c.subscribed {
			c.mu.Unlock()
			return
		}
		c.subscribed = true
		fn := c.status
		c.mu.Unlock()
		if fn != nil {
			fn(transport.StatusSubscribed, nil)
		}
	case proto.OutboundTypeBroadcast:
		var b proto.BroadcastData
		if err := json.Unmarshal(frame.Data, &b); err != nil {
			c.log.Warn().Err(err).Msg("bad broadcast frame")
			return
		}
		for _, h := range c.listeners.Broadcast(b.Event) {
			h(b.Payload)
		}
	case proto.OutboundTypePresenceState:
		var ps proto.PresenceStateData
		if err := json.Unmarshal(frame.Data, &ps); err != nil {
			c.log.Warn().Err(err).Msg("bad presence frame")
			return
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.keys = ps.Keys
		c.mu.Unlock()
		for _, h := range c.listeners.Presence() {
			h()
		}
	case proto.OutboundTypeError:
		msg := "relay error"
		if frame.Error != nil {
			msg = frame.Error.Code + ": " + frame.Error.Msg
		}
		c.mu.Lock()
		subscribed, fn := c.subscribed, c.status
		c.mu.Unlock()
		if !subscribed && fn != nil {
			fn(transport.StatusChannelError, fmt.Errorf("%w: %s", transport.ErrSubscribeFailed, msg))
			return
		}
		c.log.Warn().Str("error", msg).Msg("relay rejected a command")
	default:
		c.log.Debug().Str("type", frame.Type).Msg("ignoring frame")
	}
}

func (c *Channel) lost(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	fn := c.status
	c.mu.Unlock()
	c.log.Debug().Err(err).Msg("relay connection lost")
	if fn != nil {
		fn(transport.StatusChannelError, fmt.Errorf("%w: %v", transport.ErrClosed, err))
	}
}
