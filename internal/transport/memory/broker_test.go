package memory

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/vovakirdan/roomsync/internal/transport"
)

func subscribe(t *testing.T, b *Broker, room, key string) *Channel {
	t.Helper()
	ch, err := b.Open(room, key)
	if err != nil {
		t.Fatalf("open %s: %v", key, err)
	}
	var got transport.Status
	if err := ch.Subscribe(context.Background(), func(s transport.Status, _ error) { got = s }); err != nil {
		t.Fatalf("subscribe %s: %v", key, err)
	}
	if got != transport.StatusSubscribed {
		t.Fatalf("expected SUBSCRIBED, got %q", got)
	}
	return ch.(*Channel)
}

func TestBroadcastSkipsSenderByDefault(t *testing.T) {
	b := NewBroker()
	alice := subscribe(t, b, "lobby", "a")
	bob := subscribe(t, b, "lobby", "b")

	var aliceGot, bobGot []string
	alice.OnBroadcast("message", func(p json.RawMessage) { aliceGot = append(aliceGot, string(p)) })
	bob.OnBroadcast("message", func(p json.RawMessage) { bobGot = append(bobGot, string(p)) })

	if err := alice.Send(context.Background(), transport.Broadcast{Event: "message", Payload: json.RawMessage(`"hi"`)}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(aliceGot) != 0 {
		t.Fatalf("sender received its own broadcast: %v", aliceGot)
	}
	if !reflect.DeepEqual(bobGot, []string{`"hi"`}) {
		t.Fatalf("unexpected delivery: %v", bobGot)
	}
	if alice.Sent() != 1 {
		t.Fatalf("expected 1 sent, got %d", alice.Sent())
	}
}

func TestSelfEcho(t *testing.T) {
	b := NewBroker(WithSelfEcho())
	alice := subscribe(t, b, "lobby", "a")
	n := 0
	alice.OnBroadcast("message", func(json.RawMessage) { n++ })
	_ = alice.Send(context.Background(), transport.Broadcast{Event: "message", Payload: json.RawMessage(`{}`)})
	if n != 1 {
		t.Fatalf("expected echo, got %d deliveries", n)
	}
}

func TestPresenceTrackAndLeave(t *testing.T) {
	b := NewBroker()
	alice := subscribe(t, b, "lobby", "a")
	bob := subscribe(t, b, "lobby", "b")

	syncs := 0
	bob.OnPresenceSync(func() { syncs++ })

	if err := alice.Track(context.Background(), nil); err != nil {
		t.Fatalf("track a: %v", err)
	}
	if err := bob.Track(context.Background(), nil); err != nil {
		t.Fatalf("track b: %v", err)
	}
	if got := bob.PresenceState(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("unexpected presence: %v", got)
	}

	_ = alice.Unsubscribe()
	if got := bob.PresenceState(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("unexpected presence after leave: %v", got)
	}
	if syncs != 3 {
		t.Fatalf("expected 3 syncs, got %d", syncs)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := NewBroker()
	ch := subscribe(t, b, "lobby", "a")
	ch.OnBroadcast("message", func(json.RawMessage) {})

	for i := 0; i < 2; i++ {
		if err := ch.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe %d: %v", i, err)
		}
	}
	if ch.Released() != 1 {
		t.Fatalf("expected one release, got %d", ch.Released())
	}
	if ch.Listeners() != 0 {
		t.Fatalf("listeners left attached")
	}
	if err := ch.Send(context.Background(), transport.Broadcast{Event: "message"}); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if b.Live("lobby") != 0 {
		t.Fatalf("room still has channels")
	}
}

func TestFaultInjection(t *testing.T) {
	b := NewBroker()
	b.FailSubscribe("x", errors.New("boom"))
	b.FailTrack("y", errors.New("nope"))

	chX, _ := b.Open("lobby", "x")
	var status transport.Status
	_ = chX.Subscribe(context.Background(), func(s transport.Status, _ error) { status = s })
	if status != transport.StatusChannelError {
		t.Fatalf("expected CHANNEL_ERROR, got %q", status)
	}

	chY := subscribe(t, b, "lobby", "y")
	if err := chY.Track(context.Background(), nil); !errors.Is(err, transport.ErrTrackFailed) {
		t.Fatalf("expected ErrTrackFailed, got %v", err)
	}

	var terminal transport.Status
	chZ, _ := b.Open("lobby", "z")
	_ = chZ.Subscribe(context.Background(), func(s transport.Status, _ error) { terminal = s })
	b.Disconnect("lobby", "z")
	if terminal != transport.StatusChannelError {
		t.Fatalf("expected terminal CHANNEL_ERROR, got %q", terminal)
	}
}
