package room

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/roomsync/internal/binding"
	"github.com/vovakirdan/roomsync/internal/core"
	"github.com/vovakirdan/roomsync/internal/identity"
	"github.com/vovakirdan/roomsync/internal/session"
	"github.com/vovakirdan/roomsync/internal/transport"
	"github.com/vovakirdan/roomsync/internal/transport/memory"
)

const lobby = "lobby"

type recorder struct {
	mu       sync.Mutex
	messages []string
	presence [][]string
	states   []binding.State
}

func (r *recorder) MessageAppended(m core.ChatMessage) {
	r.mu.Lock()
	r.messages = append(r.messages, m.Text)
	r.mu.Unlock()
}

func (r *recorder) PresenceChanged(keys []string) {
	r.mu.Lock()
	r.presence = append(r.presence, keys)
	r.mu.Unlock()
}

func (r *recorder) StateChanged(s binding.State, _ binding.Condition) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func setup(t *testing.T, initial *core.Identity) (*Controller, *identity.Static, *memory.Broker, *recorder) {
	t.Helper()
	broker := memory.NewBroker()
	provider := identity.NewStatic(initial)
	manager := session.NewManager(provider, nil)
	rec := &recorder{}
	ctrl := New(Config{Room: lobby, Transport: broker, Observer: rec})

	ctrl.Attach(context.Background(), manager)
	manager.Start(context.Background())
	t.Cleanup(func() {
		ctrl.Detach()
		manager.Stop()
	})
	return ctrl, provider, broker, rec
}

func TestValidSessionAnnounces(t *testing.T) {
	ctrl, _, _, rec := setup(t, &core.Identity{ID: "u1"})

	if ctrl.State() != binding.Announced {
		t.Fatalf("expected announced, got %v", ctrl.State())
	}
	if ctrl.OnlineCount() != 1 || !reflect.DeepEqual(ctrl.Online(), []string{"u1"}) {
		t.Fatalf("expected 1 user online, got %v", ctrl.Online())
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.presence) == 0 {
		t.Fatalf("observer saw no presence")
	}
}

func TestSignedOutHasNoBinding(t *testing.T) {
	ctrl, _, broker, _ := setup(t, nil)
	if ctrl.Binding() != nil || broker.Live(lobby) != 0 {
		t.Fatalf("binding created without a session")
	}
	if _, ok := ctrl.Send(context.Background(), "hi"); ok {
		t.Fatalf("send without a session accepted")
	}
	if ctrl.Condition() != binding.ConditionIdle {
		t.Fatalf("unexpected condition %v", ctrl.Condition())
	}
}

func TestSignOutDiscardsAndFreshJoinStartsEmpty(t *testing.T) {
	ctrl, provider, broker, _ := setup(t, &core.Identity{ID: "u1"})
	ctrl.Send(context.Background(), "hi")
	old := ctrl.Binding()

	provider.Set(nil)
	if old.State() != binding.Closed {
		t.Fatalf("old binding not closed: %v", old.State())
	}
	if len(old.Messages()) != 0 || old.OnlineCount() != 0 {
		t.Fatalf("closed binding kept state")
	}
	if broker.Live(lobby) != 0 {
		t.Fatalf("channel leaked after sign out")
	}

	provider.Set(&core.Identity{ID: "u2"})
	if len(ctrl.Messages()) != 0 {
		t.Fatalf("fresh binding inherited history")
	}
	if !reflect.DeepEqual(ctrl.Online(), []string{"u2"}) {
		t.Fatalf("unexpected presence: %v", ctrl.Online())
	}
}

func TestSingleLiveBindingAcrossChanges(t *testing.T) {
	ctrl, provider, broker, _ := setup(t, &core.Identity{ID: "u1"})
	first := ctrl.Binding()

	provider.Set(nil)
	provider.Set(&core.Identity{ID: "u2"})
	second := ctrl.Binding()

	if broker.Live(lobby) != 1 {
		t.Fatalf("expected one live channel, got %d", broker.Live(lobby))
	}
	if first == second || first.State() != binding.Closed {
		t.Fatalf("old binding still live")
	}

	// An event aimed at the old identity must not touch the new binding.
	broker.Disconnect(lobby, "u1")
	if second.State() != binding.Announced {
		t.Fatalf("new binding disturbed: %v", second.State())
	}
}

func TestRefreshRebuildsBinding(t *testing.T) {
	ctrl, provider, broker, _ := setup(t, &core.Identity{ID: "u1"})
	ctrl.Send(context.Background(), "before refresh")
	first := ctrl.Binding()

	provider.Set(&core.Identity{ID: "u1"})

	if ctrl.Binding() == first {
		t.Fatalf("refresh did not rebuild the binding")
	}
	if len(ctrl.Messages()) != 0 {
		t.Fatalf("rebuilt binding kept history")
	}
	if broker.Live(lobby) != 1 {
		t.Fatalf("expected one live channel, got %d", broker.Live(lobby))
	}
}

func TestRemoteMessagesReachObserver(t *testing.T) {
	ctrl, _, broker, rec := setup(t, &core.Identity{ID: "u1"})
	ctrl.Send(context.Background(), "hi")

	msg, _ := core.NewChatMessage(core.Identity{ID: "u2", DisplayName: "u2", AvatarRef: "x"}, "yo", time.Now())
	raw, _ := core.EncodeMessage(msg)
	broker.Publish(lobby, transport.Broadcast{Event: core.MessageEvent, Payload: raw})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !reflect.DeepEqual(rec.messages, []string{"hi", "yo"}) {
		t.Fatalf("unexpected observed messages: %v", rec.messages)
	}
}

func TestDetachIsIdempotent(t *testing.T) {
	ctrl, provider, broker, _ := setup(t, &core.Identity{ID: "u1"})
	ctrl.Detach()
	ctrl.Detach()
	if broker.Live(lobby) != 0 {
		t.Fatalf("detach left a live channel")
	}
	provider.Set(&core.Identity{ID: "u2"})
	if ctrl.Binding() != nil {
		t.Fatalf("detached controller rebuilt a binding")
	}
}

// lateSessions publishes a newer session while its current value is being read.
type lateSessions struct {
	mu   sync.Mutex
	subs []func(core.Session)
	wg   sync.WaitGroup
}

func (s *lateSessions) Current() core.Session {
	s.mu.Lock()
	subs := append([]func(core.Session){}, s.subs...)
	s.mu.Unlock()

	next := core.NewSession(&core.Identity{ID: "u2"})
	for _, fn := range subs {
		s.wg.Add(1)
		go func(fn func(core.Session)) {
			defer s.wg.Done()
			fn(next)
		}(fn)
	}
	return core.NewSession(&core.Identity{ID: "u1"})
}

func (s *lateSessions) Subscribe(fn func(core.Session)) func() {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
	return func() {}
}

func TestAttachDoesNotMissConcurrentPublish(t *testing.T) {
	broker := memory.NewBroker()
	ctrl := New(Config{Room: lobby, Transport: broker})
	t.Cleanup(ctrl.Detach)

	sessions := &lateSessions{}
	ctrl.Attach(context.Background(), sessions)
	sessions.wg.Wait()

	b := ctrl.Binding()
	if b == nil || b.Identity().ID != "u2" {
		t.Fatalf("latest session not applied: %+v", b)
	}
	if broker.Live(lobby) != 1 {
		t.Fatalf("expected one live channel, got %d", broker.Live(lobby))
	}
}
