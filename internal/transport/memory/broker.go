// Package memory is a process-local transport. Delivery is synchronous on the
// emitting goroutine, which makes it the transport of choice for tests and
// single-process demos.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomsync/internal/transport"
)

// Broker routes events between channels opened on the same room.
type Broker struct {
	mu            sync.Mutex
	rooms         map[string]*room
	echoSelf      bool
	failSubscribe map[string]error
	failTrack     map[string]error
	log           *zerolog.Logger
}

type room struct {
	channels []*Channel
	tracked  []*Channel
}

// Option configures a Broker.
type Option func(*Broker)

// WithSelfEcho makes broadcasts reach their sender as well.
func WithSelfEcho() Option {
	return func(b *Broker) { b.echoSelf = true }
}

// WithLogger sets the broker logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(b *Broker) { b.log = logger }
}

// NewBroker builds an empty broker.
func NewBroker(opts ...Option) *Broker {
	nop := zerolog.Nop()
	b := &Broker{
		rooms:         make(map[string]*room),
		failSubscribe: make(map[string]error),
		failTrack:     make(map[string]error),
		log:           &nop,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// FailSubscribe makes subscriptions under key report a channel error.
func (b *Broker) FailSubscribe(key string, err error) {
	b.mu.Lock()
	b.failSubscribe[key] = err
	b.mu.Unlock()
}

// FailTrack makes presence tracking under key fail.
func (b *Broker) FailTrack(key string, err error) {
	b.mu.Lock()
	b.failTrack[key] = err
	b.mu.Unlock()
}

// Open creates an unsubscribed channel on room for presenceKey.
func (b *Broker) Open(roomName, presenceKey string) (transport.Channel, error) {
	if roomName == "" || presenceKey == "" {
		return nil, fmt.Errorf("open channel: room and presence key are required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.room(roomName)
	ch := &Channel{broker: b, room: roomName, key: presenceKey}
	r.channels = append(r.channels, ch)
	return ch, nil
}

// Publish delivers a broadcast to every subscribed channel of room.
func (b *Broker) Publish(roomName string, br transport.Broadcast) {
	b.deliver(roomName, nil, br)
}

// Disconnect reports a terminal channel error to every channel of room
// subscribed under key.
func (b *Broker) Disconnect(roomName, key string) {
	b.mu.Lock()
	var fns []transport.StatusFunc
	if r, ok := b.rooms[roomName]; ok {
		for _, ch := range r.channels {
			if ch.key == key && ch.subscribed && !ch.closed && ch.status != nil {
				fns = append(fns, ch.status)
			}
		}
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(transport.StatusChannelError, fmt.Errorf("%w: disconnected", transport.ErrClosed))
	}
}

// Members returns the tracked presence keys of room in tracking order.
func (b *Broker) Members(roomName string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.membersLocked(roomName)
}

// Payload returns the presence payload tracked under key in room, or nil when
// key is not tracked there.
func (b *Broker) Payload(roomName, key string) json.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rooms[roomName]
	if !ok {
		return nil
	}
	for _, ch := range r.tracked {
		if ch.key == key {
			return ch.payload
		}
	}
	return nil
}

// Live returns the number of open channels on room.
func (b *Broker) Live(roomName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rooms[roomName]
	if !ok {
		return 0
	}
	return len(r.channels)
}

func (b *Broker) room(name string) *room {
	r, ok := b.rooms[name]
	if !ok {
		r = &room{}
		b.rooms[name] = r
	}
	return r
}

func (b *Broker) membersLocked(roomName string) []string {
	r, ok := b.rooms[roomName]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(r.tracked))
	for _, ch := range r.tracked {
		keys = append(keys, ch.key)
	}
	return keys
}

func (b *Broker) deliver(roomName string, from *Channel, br transport.Broadcast) {
	b.mu.Lock()
	var handlers []func(json.RawMessage)
	if r, ok := b.rooms[roomName]; ok {
		for _, ch := range r.channels {
			if !ch.subscribed || ch.closed {
				continue
			}
			if ch == from && !b.echoSelf {
				continue
			}
			handlers = append(handlers, ch.listeners.Broadcast(br.Event)...)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(br.Payload)
	}
}

func (b *Broker) syncPresence(roomName string) {
	b.mu.Lock()
	var handlers []func()
	if r, ok := b.rooms[roomName]; ok {
		for _, ch := range r.channels {
			if ch.subscribed && !ch.closed {
				handlers = append(handlers, ch.listeners.Presence()...)
			}
		}
	}
	b.mu.Unlock()

	b.log.Debug().Str("room", roomName).Int("handlers", len(handlers)).Msg("presence sync")
	for _, h := range handlers {
		h()
	}
}

// Channel is a memory broker channel.
type Channel struct {
	broker    *Broker
	room      string
	key       string
	listeners transport.Listeners

	// guarded by broker.mu
	subscribed bool
	closed     bool
	status     transport.StatusFunc
	payload    json.RawMessage
	sent       int
	released   int
}

// OnBroadcast registers a handler for event.
func (c *Channel) OnBroadcast(event string, handler func(json.RawMessage)) func() {
	return c.listeners.AddBroadcast(event, handler)
}

// OnPresenceSync registers a presence sync handler.
func (c *Channel) OnPresenceSync(handler func()) func() {
	return c.listeners.AddPresence(handler)
}

// Subscribe joins the room and reports the outcome through fn.
func (c *Channel) Subscribe(_ context.Context, fn transport.StatusFunc) error {
	b := c.broker
	b.mu.Lock()
	if c.closed {
		b.mu.Unlock()
		return transport.ErrClosed
	}
	if c.subscribed {
		b.mu.Unlock()
		return transport.ErrAlreadyJoined
	}
	if err, ok := b.failSubscribe[c.key]; ok {
		b.mu.Unlock()
		if fn != nil {
			fn(transport.StatusChannelError, fmt.Errorf("%w: %v", transport.ErrSubscribeFailed, err))
		}
		return nil
	}
	c.subscribed = true
	c.status = fn
	b.mu.Unlock()

	if fn != nil {
		fn(transport.StatusSubscribed, nil)
	}
	for _, h := range c.listeners.Presence() {
		h()
	}
	return nil
}

// Track announces the channel's presence key.
func (c *Channel) Track(_ context.Context, payload json.RawMessage) error {
	b := c.broker
	b.mu.Lock()
	if c.closed {
		b.mu.Unlock()
		return transport.ErrClosed
	}
	if !c.subscribed {
		b.mu.Unlock()
		return transport.ErrNotSubscribed
	}
	if err, ok := b.failTrack[c.key]; ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %v", transport.ErrTrackFailed, err)
	}
	c.payload = payload
	r := b.room(c.room)
	tracked := false
	for _, ch := range r.tracked {
		if ch == c {
			tracked = true
			break
		}
	}
	if !tracked {
		r.tracked = append(r.tracked, c)
	}
	b.mu.Unlock()

	b.syncPresence(c.room)
	return nil
}

// Send broadcasts an event to the room.
func (c *Channel) Send(_ context.Context, br transport.Broadcast) error {
	b := c.broker
	b.mu.Lock()
	if c.closed {
		b.mu.Unlock()
		return transport.ErrClosed
	}
	if !c.subscribed {
		b.mu.Unlock()
		return transport.ErrNotSubscribed
	}
	c.sent++
	b.mu.Unlock()

	b.deliver(c.room, c, br)
	return nil
}

// PresenceState returns the tracked keys of the room.
func (c *Channel) PresenceState() []string {
	return c.broker.Members(c.room)
}

// Unsubscribe leaves the room and drops every listener. Repeated calls are no-ops.
func (c *Channel) Unsubscribe() error {
	c.listeners.Clear()

	b := c.broker
	b.mu.Lock()
	if c.closed {
		b.mu.Unlock()
		return nil
	}
	c.closed = true
	c.released++
	wasTracked := false
	if r, ok := b.rooms[c.room]; ok {
		r.channels = removeChannel(r.channels, c)
		before := len(r.tracked)
		r.tracked = removeChannel(r.tracked, c)
		wasTracked = len(r.tracked) != before
		if len(r.channels) == 0 {
			delete(b.rooms, c.room)
		}
	}
	b.mu.Unlock()

	if wasTracked {
		b.syncPresence(c.room)
	}
	return nil
}

// Sent returns how many broadcasts the channel emitted.
func (c *Channel) Sent() int {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return c.sent
}

// Released returns how many times the channel actually released its resources.
func (c *Channel) Released() int {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return c.released
}

// Listeners returns the number of handlers still attached.
func (c *Channel) Listeners() int {
	return c.listeners.Len()
}

func removeChannel(list []*Channel, c *Channel) []*Channel {
	out := list[:0]
	for _, ch := range list {
		if ch != c {
			out = append(out, ch)
		}
	}
	return out
}
