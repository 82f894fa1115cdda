// Package transport defines the realtime channel a room session binds to.
package transport

import (
	"context"
	"encoding/json"
	"errors"
)

// Status is a subscription lifecycle notification.
type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusClosed       Status = "CLOSED"
)

var (
	ErrClosed          = errors.New("channel closed")
	ErrNotSubscribed   = errors.New("channel not subscribed")
	ErrAlreadyJoined   = errors.New("channel already subscribed")
	ErrTrackFailed     = errors.New("presence track failed")
	ErrSubscribeFailed = errors.New("subscribe failed")
)

// Broadcast is a typed event emitted to every member of a room.
type Broadcast struct {
	Event   string
	Payload json.RawMessage
}

// StatusFunc receives subscription status changes. err is set for failure statuses.
type StatusFunc func(status Status, err error)

// Transport opens channels onto named rooms.
type Transport interface {
	Open(room, presenceKey string) (Channel, error)
}

// Channel is one participant's connection to a room.
//
// Listeners may be registered before Subscribe so that no early event is
// missed. Handlers may run on any goroutine. Unsubscribe is idempotent and
// detaches every listener before it returns.
type Channel interface {
	OnBroadcast(event string, handler func(payload json.RawMessage)) (off func())
	OnPresenceSync(handler func()) (off func())
	Subscribe(ctx context.Context, fn StatusFunc) error
	Track(ctx context.Context, payload json.RawMessage) error
	Send(ctx context.Context, b Broadcast) error
	PresenceState() []string
	Unsubscribe() error
}
