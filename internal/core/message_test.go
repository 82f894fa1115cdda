package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewChatMessageTrimsAndStamps(t *testing.T) {
	id := Identity{ID: "u1", DisplayName: "Ann", AvatarRef: "a.png"}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3*3600))

	msg, ok := NewChatMessage(id, "  hi  ", now)
	if !ok {
		t.Fatalf("expected message to be created")
	}
	if msg.Text != "hi" || msg.SenderID != "u1" || msg.SenderName != "Ann" || msg.SenderAvatar != "a.png" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.SentAt.Location() != time.UTC || !msg.SentAt.Equal(now) {
		t.Fatalf("sent_at not normalised to UTC: %v", msg.SentAt)
	}
	if msg.Key == "" {
		t.Fatalf("expected idempotency key")
	}
}

func TestNewChatMessageRejectsBlank(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		if _, ok := NewChatMessage(Identity{ID: "u1"}, text, time.Now()); ok {
			t.Fatalf("expected %q to be rejected", text)
		}
	}
}

func TestMessageKeyDependsOnAllParts(t *testing.T) {
	at := time.Unix(1700000000, 0)
	base := MessageKey("u1", at, "hi")
	if base != MessageKey("u1", at, "hi") {
		t.Fatalf("key is not deterministic")
	}
	if base == MessageKey("u2", at, "hi") || base == MessageKey("u1", at.Add(time.Nanosecond), "hi") || base == MessageKey("u1", at, "ho") {
		t.Fatalf("key collision on differing input")
	}
}

func TestEncodeDecodeMessage(t *testing.T) {
	msg, _ := NewChatMessage(Identity{ID: "u1", DisplayName: "Ann", AvatarRef: "a.png"}, "hello", time.Now())
	raw, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Text != msg.Text || got.SenderID != msg.SenderID || got.Key != msg.Key || !got.SentAt.Equal(msg.SentAt) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, msg)
	}
}

func TestDecodeMessageMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":       `{`,
		"missing text":   `{"sender_name":"a","sender_avatar":"x","sent_at":"2024-01-01T00:00:00Z"}`,
		"blank text":     `{"text":"  ","sender_name":"a","sender_avatar":"x","sent_at":"2024-01-01T00:00:00Z"}`,
		"missing sender": `{"text":"hi","sender_avatar":"x","sent_at":"2024-01-01T00:00:00Z"}`,
		"missing avatar": `{"text":"hi","sender_name":"a","sent_at":"2024-01-01T00:00:00Z"}`,
		"bad sent_at":    `{"text":"hi","sender_name":"a","sender_avatar":"x","sent_at":"yesterday"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeMessage(json.RawMessage(raw))
			if !errors.Is(err, ErrMalformedMessage) {
				t.Fatalf("expected ErrMalformedMessage, got %v", err)
			}
		})
	}
}

func TestNewSessionDefaults(t *testing.T) {
	if NewSession(nil).Valid() {
		t.Fatalf("absent identity must not be valid")
	}
	s := NewSession(&Identity{ID: "u1"})
	if !s.Valid() || s.Identity.DisplayName != "u1" || s.Identity.AvatarRef != DefaultAvatar {
		t.Fatalf("unexpected session: %+v", s.Identity)
	}
}
