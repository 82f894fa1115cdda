// Package room keeps exactly one channel binding alive for the current
// session and exposes the room's message log, roster and connection state.
package room

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomsync/internal/binding"
	"github.com/vovakirdan/roomsync/internal/core"
	"github.com/vovakirdan/roomsync/internal/transport"
)

// Sessions publishes session values.
type Sessions interface {
	Current() core.Session
	Subscribe(fn func(core.Session)) (unsubscribe func())
}

// Observer is notified of room changes. Methods may be called from any goroutine.
type Observer interface {
	MessageAppended(msg core.ChatMessage)
	PresenceChanged(keys []string)
	StateChanged(state binding.State, cond binding.Condition)
}

// Config configures a Controller.
type Config struct {
	Room      string
	Transport transport.Transport
	Observer  Observer
	Logger    *zerolog.Logger
}

// Controller swaps bindings as the session changes.
type Controller struct {
	room      string
	transport transport.Transport
	observer  Observer
	log       *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// switchMu serializes session transitions so two bindings never overlap.
	switchMu sync.Mutex
	current  atomic.Pointer[binding.Binding]
	off      func()
	stopped  bool
}

// New builds a controller. Call Attach to start following sessions.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Controller{
		room:      cfg.Room,
		transport: cfg.Transport,
		observer:  cfg.Observer,
		log:       logger,
	}
}

// Attach follows sessions published by s, starting with the current one.
// Bindings live until ctx is done, the session changes or Detach is called.
// s must not deliver to its subscribers synchronously from Subscribe.
func (c *Controller) Attach(ctx context.Context, s Sessions) {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()
	if c.stopped {
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	// Subscribe before reading the current value. A publish racing this call
	// waits on switchMu and is applied after it.
	c.off = s.Subscribe(c.OnSession)
	c.apply(s.Current())
}

// OnSession retires the current binding and, for a valid session, starts a
// fresh one. Every call rebuilds, even when the identity is unchanged.
func (c *Controller) OnSession(s core.Session) {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()
	if c.stopped {
		return
	}
	c.apply(s)
}

func (c *Controller) apply(s core.Session) {
	if old := c.current.Swap(nil); old != nil {
		old.Close()
	}
	if !s.Valid() {
		c.log.Info().Str("room", c.room).Msg("signed out, no binding")
		return
	}

	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	b := binding.New(binding.Options{
		Room:      c.room,
		Identity:  *s.Identity,
		Transport: c.transport,
		Hooks:     c.hooks(),
		Logger:    c.log,
	})
	c.current.Store(b)
	if err := b.Start(ctx); err != nil {
		c.log.Error().Err(err).Str("room", c.room).Msg("start binding")
	}
}

// Detach closes the active binding and stops following sessions. Safe to
// call more than once.
func (c *Controller) Detach() {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	if c.off != nil {
		c.off()
		c.off = nil
	}
	if old := c.current.Swap(nil); old != nil {
		old.Close()
	}
	if c.cancel != nil {
		c.cancel()
	}
}

// Send posts text on the active binding. It reports false when nothing was sent.
func (c *Controller) Send(ctx context.Context, text string) (core.ChatMessage, bool) {
	b := c.current.Load()
	if b == nil {
		return core.ChatMessage{}, false
	}
	return b.Send(ctx, text)
}

// Messages returns the active binding's message log.
func (c *Controller) Messages() []core.ChatMessage {
	if b := c.current.Load(); b != nil {
		return b.Messages()
	}
	return nil
}

// Online returns the active binding's presence keys.
func (c *Controller) Online() []string {
	if b := c.current.Load(); b != nil {
		return b.Online()
	}
	return nil
}

// OnlineCount returns the number of online participants.
func (c *Controller) OnlineCount() int {
	if b := c.current.Load(); b != nil {
		return b.OnlineCount()
	}
	return 0
}

// State returns the active binding's state, or Idle without one.
func (c *Controller) State() binding.State {
	if b := c.current.Load(); b != nil {
		return b.State()
	}
	return binding.Idle
}

// Condition returns the active binding's condition, or idle without one.
func (c *Controller) Condition() binding.Condition {
	if b := c.current.Load(); b != nil {
		return b.Condition()
	}
	return binding.ConditionIdle
}

// Binding returns the active binding, if any.
func (c *Controller) Binding() *binding.Binding {
	return c.current.Load()
}

func (c *Controller) hooks() binding.Hooks {
	if c.observer == nil {
		return binding.Hooks{}
	}
	return binding.Hooks{
		OnMessage:  c.observer.MessageAppended,
		OnPresence: c.observer.PresenceChanged,
		OnState:    c.observer.StateChanged,
	}
}
