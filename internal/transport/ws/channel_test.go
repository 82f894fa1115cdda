package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/roomsync/internal/binding"
	"github.com/vovakirdan/roomsync/internal/config"
	"github.com/vovakirdan/roomsync/internal/core"
	"github.com/vovakirdan/roomsync/internal/identity"
	applog "github.com/vovakirdan/roomsync/internal/log"
	"github.com/vovakirdan/roomsync/internal/proto"
	"github.com/vovakirdan/roomsync/internal/relay"
)

func startRelay(t *testing.T, cfg config.Config) string {
	t.Helper()

	hub := relay.NewHub(cfg.Token(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	disabledLogger := applog.Nop()
	server := relay.NewServer(hub, &cfg, disabledLogger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func bind(t *testing.T, d *Dialer, id string) *binding.Binding {
	t.Helper()
	b := binding.New(binding.Options{
		Room:      "general",
		Identity:  core.Identity{ID: id, DisplayName: id, AvatarRef: id + ".png"},
		Transport: d,
	})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start %s: %v", id, err)
	}
	t.Cleanup(b.Close)
	return b
}

func texts(b *binding.Binding) []string {
	var out []string
	for _, m := range b.Messages() {
		out = append(out, m.Text)
	}
	return out
}

func TestRelayRoundTrip(t *testing.T) {
	url := startRelay(t, config.Default())
	d := &Dialer{URL: url}

	alice := bind(t, d, "alice")
	eventually(t, "alice announced", func() bool { return alice.State() == binding.Announced })
	bob := bind(t, d, "bob")
	eventually(t, "bob announced", func() bool { return bob.State() == binding.Announced })

	eventually(t, "both online", func() bool {
		return reflect.DeepEqual(alice.Online(), []string{"alice", "bob"}) && bob.OnlineCount() == 2
	})

	if _, ok := alice.Send(context.Background(), "hi bob"); !ok {
		t.Fatalf("send rejected")
	}
	eventually(t, "bob receives", func() bool { return reflect.DeepEqual(texts(bob), []string{"hi bob"}) })
	if got := texts(alice); !reflect.DeepEqual(got, []string{"hi bob"}) {
		t.Fatalf("sender log: %v", got)
	}

	bob.Close()
	eventually(t, "bob gone", func() bool { return reflect.DeepEqual(alice.Online(), []string{"alice"}) })
}

func TestRelaySelfEchoDeduplicated(t *testing.T) {
	url := startRelay(t, config.Default())
	alice := bind(t, &Dialer{URL: url, Self: true}, "alice")
	eventually(t, "announced", func() bool { return alice.State() == binding.Announced })

	alice.Send(context.Background(), "one")
	alice.Send(context.Background(), "two")
	// A marker from another participant proves the echoes were processed.
	bob := bind(t, &Dialer{URL: url}, "bob")
	eventually(t, "bob announced", func() bool { return bob.State() == binding.Announced })
	bob.Send(context.Background(), "marker")

	eventually(t, "marker", func() bool { return len(texts(alice)) == 3 })
	if got := texts(alice); !reflect.DeepEqual(got, []string{"one", "two", "marker"}) {
		t.Fatalf("unexpected log: %v", got)
	}
}

func TestRelayRejectsBadToken(t *testing.T) {
	cfg := config.Default()
	cfg.JWTSecret = "testsecret"
	url := startRelay(t, cfg)

	good, err := identity.Issue(cfg.Token(), core.Identity{ID: "alice"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	ok := bind(t, &Dialer{URL: url, Token: func() string { return good }}, "alice")
	eventually(t, "authorized join", func() bool { return ok.State() == binding.Announced })

	// Token subject does not match the presence key.
	bad := bind(t, &Dialer{URL: url, Token: func() string { return good }}, "mallory")
	eventually(t, "rejected join", func() bool { return bad.Condition() == binding.ConditionFailed })
	if bad.State() != binding.Closed {
		t.Fatalf("expected closed, got %v", bad.State())
	}
}

func TestDialFailureFailsBinding(t *testing.T) {
	b := binding.New(binding.Options{
		Room:      "general",
		Identity:  core.Identity{ID: "alice"},
		Transport: &Dialer{URL: "ws://127.0.0.1:1/ws"},
	})
	if err := b.Start(context.Background()); err == nil {
		t.Fatalf("expected dial error")
	}
	if b.State() != binding.Closed || b.Condition() != binding.ConditionFailed {
		t.Fatalf("unexpected state %v/%v", b.State(), b.Condition())
	}
}

func TestRelayDropAfterSubscribeDisconnects(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		var join proto.Inbound
		if err := wsjson.Read(ctx, conn, &join); err != nil {
			return
		}
		_ = wsjson.Write(ctx, conn, proto.Outbound{
			Type: proto.OutboundTypeStatus,
			Data: proto.StatusData{Room: "general", Status: proto.StatusSubscribed},
		})
		var track proto.Inbound
		_ = wsjson.Read(ctx, conn, &track)
		conn.Close(websocket.StatusGoingAway, "relay shutting down")
	}))
	t.Cleanup(ts.Close)

	d := &Dialer{URL: strings.Replace(ts.URL, "http", "ws", 1)}
	b := bind(t, d, "alice")

	eventually(t, "binding disconnected", func() bool {
		return b.State() == binding.Closed && b.Condition() == binding.ConditionDisconnected
	})
	if len(b.Messages()) != 0 || b.OnlineCount() != 0 {
		t.Fatalf("closed binding kept state")
	}
}
