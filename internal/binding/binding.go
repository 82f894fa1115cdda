// Package binding ties one valid session to one open room channel. It drives
// the channel through subscribe and presence announce, owns the message log
// and presence set for the lifetime of the channel, and discards both when the
// binding closes.
package binding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomsync/internal/core"
	"github.com/vovakirdan/roomsync/internal/transport"
)

// ErrNotIdle is returned when Start is called on a binding that already started.
var ErrNotIdle = errors.New("binding already started")

// Hooks receive binding changes. They run outside the binding lock, on the
// goroutine that triggered the change.
type Hooks struct {
	OnMessage  func(core.ChatMessage)
	OnPresence func(keys []string)
	OnState    func(State, Condition)
}

// Options configures a Binding.
type Options struct {
	Room      string
	Identity  core.Identity
	Transport transport.Transport
	Hooks     Hooks
	Logger    *zerolog.Logger
	// Now stamps outgoing messages. Defaults to time.Now.
	Now func() time.Time
}

// PresencePayload is announced when the binding tracks its presence.
type PresencePayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	OnlineAt string `json:"online_at"`
}

// Binding is the state machine for one session's channel.
type Binding struct {
	room      string
	identity  core.Identity
	transport transport.Transport
	hooks     Hooks
	log       zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	state    State
	cond     Condition
	channel  transport.Channel
	offs     []func()
	ledger   *core.Ledger
	presence core.PresenceSet
	ctx      context.Context
	cancel   context.CancelFunc
}

// New builds an idle binding.
func New(opts Options) *Binding {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Binding{
		room:      opts.Room,
		identity:  opts.Identity,
		transport: opts.Transport,
		hooks:     opts.Hooks,
		log: logger.With().
			Str("room", opts.Room).
			Str("presence_key", opts.Identity.ID).
			Logger(),
		now:    now,
		state:  Idle,
		cond:   ConditionIdle,
		ledger: core.NewLedger(),
	}
}

// Start opens the channel, installs listeners and subscribes. The binding
// moves on to Subscribed and Announced as the transport acknowledges.
func (b *Binding) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.state != Idle {
		b.mu.Unlock()
		return ErrNotIdle
	}
	ch, err := b.transport.Open(b.room, b.identity.ID)
	if err != nil {
		b.state = Closed
		b.cond = ConditionFailed
		b.mu.Unlock()
		b.log.Error().Err(err).Msg("open channel")
		b.emitState()
		return fmt.Errorf("open channel: %w", err)
	}
	b.channel = ch
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.offs = append(b.offs,
		ch.OnBroadcast(core.MessageEvent, b.onMessage),
		ch.OnPresenceSync(b.onPresenceSync),
	)
	b.state = Connecting
	b.cond = ConditionConnecting
	b.mu.Unlock()
	b.emitState()

	if err := ch.Subscribe(ctx, b.onStatus); err != nil {
		b.log.Error().Err(err).Msg("subscribe")
		b.shutdown(ConditionFailed)
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// Send emits text as a chat message and appends it to the local log. It is a
// no-op returning false for blank text or when the channel is not subscribed.
func (b *Binding) Send(ctx context.Context, text string) (core.ChatMessage, bool) {
	b.mu.Lock()
	if b.state != Subscribed && b.state != Announced {
		b.mu.Unlock()
		return core.ChatMessage{}, false
	}
	msg, ok := core.NewChatMessage(b.identity, text, b.now())
	if !ok {
		b.mu.Unlock()
		return core.ChatMessage{}, false
	}
	b.ledger.Expect(msg.Key)
	ch := b.channel
	b.mu.Unlock()

	raw, err := core.EncodeMessage(msg)
	if err == nil {
		err = ch.Send(ctx, transport.Broadcast{Event: core.MessageEvent, Payload: raw})
	}
	if err != nil {
		b.log.Warn().Err(err).Msg("emit message")
	}

	b.mu.Lock()
	if b.state == Closed {
		b.mu.Unlock()
		return msg, false
	}
	b.ledger.AppendLocal(msg)
	b.mu.Unlock()

	if b.hooks.OnMessage != nil {
		b.hooks.OnMessage(msg)
	}
	return msg, true
}

// Close tears the binding down: listeners are detached and the channel is
// released before Close returns. Calling Close again does nothing.
func (b *Binding) Close() {
	b.shutdown(ConditionClosed)
}

// State returns the current lifecycle state.
func (b *Binding) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Condition returns the coarse connection condition.
func (b *Binding) Condition() Condition {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cond
}

// Messages returns a snapshot of the message log.
func (b *Binding) Messages() []core.ChatMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.Messages()
}

// Online returns a snapshot of the presence set.
func (b *Binding) Online() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.presence.Keys()
}

// OnlineCount returns the number of online participants.
func (b *Binding) OnlineCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.presence.Len()
}

// Identity returns the participant this binding announces.
func (b *Binding) Identity() core.Identity {
	return b.identity
}

func (b *Binding) onStatus(status transport.Status, err error) {
	switch status {
	case transport.StatusSubscribed:
		b.mu.Lock()
		if b.state != Connecting {
			b.mu.Unlock()
			return
		}
		b.state = Subscribed
		b.cond = ConditionConnected
		ch, ctx := b.channel, b.ctx
		b.mu.Unlock()

		b.log.Info().Msg("subscribed")
		b.emitState()
		b.announce(ctx, ch)
	case transport.StatusChannelError, transport.StatusTimedOut, transport.StatusClosed:
		b.mu.Lock()
		state := b.state
		b.mu.Unlock()
		if state == Closed {
			return
		}
		if state == Connecting {
			b.log.Error().Err(err).Str("status", string(status)).Msg("subscribe failed")
			b.shutdown(ConditionFailed)
			return
		}
		b.log.Error().Err(err).Str("status", string(status)).Msg("channel lost")
		b.shutdown(ConditionDisconnected)
	default:
		b.log.Debug().Str("status", string(status)).Msg("ignoring channel status")
	}
}

func (b *Binding) announce(ctx context.Context, ch transport.Channel) {
	payload, err := json.Marshal(PresencePayload{
		ID:       b.identity.ID,
		Name:     b.identity.DisplayName,
		Avatar:   b.identity.AvatarRef,
		OnlineAt: b.now().UTC().Format(time.RFC3339Nano),
	})
	if err == nil {
		err = ch.Track(ctx, payload)
	}

	b.mu.Lock()
	if b.state != Subscribed {
		b.mu.Unlock()
		return
	}
	if err != nil {
		b.cond = ConditionDegraded
		b.mu.Unlock()
		b.log.Warn().Err(err).Msg("presence announce failed")
		b.emitState()
		return
	}
	b.state = Announced
	b.mu.Unlock()
	b.log.Debug().Msg("presence announced")
	b.emitState()
}

func (b *Binding) onMessage(payload json.RawMessage) {
	b.mu.Lock()
	if b.state == Closed {
		b.mu.Unlock()
		return
	}
	msg, err := core.DecodeMessage(payload)
	if err != nil {
		b.mu.Unlock()
		b.log.Warn().Err(err).Msg("dropping inbound message")
		return
	}
	appended := b.ledger.Receive(msg)
	b.mu.Unlock()

	if !appended {
		b.log.Debug().
			Str("key", msg.Key).
			Str("sender_id", msg.SenderID).
			Msg("dropping inbound message: echo of a local send")
		return
	}
	if b.hooks.OnMessage != nil {
		b.hooks.OnMessage(msg)
	}
}

func (b *Binding) onPresenceSync() {
	b.mu.Lock()
	if b.state == Closed || b.channel == nil {
		b.mu.Unlock()
		return
	}
	b.presence.Replace(b.channel.PresenceState())
	keys := b.presence.Keys()
	b.mu.Unlock()

	if b.hooks.OnPresence != nil {
		b.hooks.OnPresence(keys)
	}
}

func (b *Binding) shutdown(cond Condition) {
	b.mu.Lock()
	if b.state == Closed {
		b.mu.Unlock()
		return
	}
	b.state = Closed
	b.cond = cond
	offs, ch, cancel := b.offs, b.channel, b.cancel
	b.offs = nil
	b.channel = nil
	b.ledger.Reset()
	b.presence.Reset()
	b.mu.Unlock()

	for _, off := range offs {
		off()
	}
	if ch != nil {
		if err := ch.Unsubscribe(); err != nil {
			b.log.Warn().Err(err).Msg("unsubscribe")
		}
	}
	if cancel != nil {
		cancel()
	}
	b.log.Info().Str("condition", string(cond)).Msg("binding closed")
	b.emitState()
}

func (b *Binding) emitState() {
	if b.hooks.OnState == nil {
		return
	}
	b.mu.Lock()
	state, cond := b.state, b.cond
	b.mu.Unlock()
	b.hooks.OnState(state, cond)
}
