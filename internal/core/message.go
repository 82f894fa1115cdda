package core

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/blake2b"
)

// MessageEvent is the broadcast event name chat messages travel under.
const MessageEvent = "message"

var validate = validator.New()

// ChatMessage is the domain model for a chat message. Values are immutable
// once created.
type ChatMessage struct {
	Text         string
	SenderID     string
	SenderName   string
	SenderAvatar string
	SentAt       time.Time
	// Key identifies a message across the wire so a local echo can be recognised.
	Key string
}

// MessagePayload is the broadcast payload shape of a chat message.
type MessagePayload struct {
	Text         string `json:"text" validate:"required"`
	SenderID     string `json:"sender_id,omitempty"`
	SenderName   string `json:"sender_name" validate:"required"`
	SenderAvatar string `json:"sender_avatar" validate:"required"`
	SentAt       string `json:"sent_at" validate:"required"`
	Key          string `json:"key,omitempty"`
}

// NewChatMessage stamps text with the sender identity and the UTC send time.
// It returns false when the trimmed text is empty.
func NewChatMessage(id Identity, text string, now time.Time) (ChatMessage, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatMessage{}, false
	}
	sentAt := now.UTC()
	return ChatMessage{
		Text:         text,
		SenderID:     id.ID,
		SenderName:   id.DisplayName,
		SenderAvatar: id.AvatarRef,
		SentAt:       sentAt,
		Key:          MessageKey(id.ID, sentAt, text),
	}, true
}

// MessageKey derives the idempotency key of a message from sender, send time and text.
func MessageKey(senderID string, sentAt time.Time, text string) string {
	raw := senderID + "\x00" + sentAt.UTC().Format(time.RFC3339Nano) + "\x00" + text
	sum := blake2b.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16])
}

// Payload converts the message into its broadcast shape.
func (m ChatMessage) Payload() MessagePayload {
	return MessagePayload{
		Text:         m.Text,
		SenderID:     m.SenderID,
		SenderName:   m.SenderName,
		SenderAvatar: m.SenderAvatar,
		SentAt:       m.SentAt.UTC().Format(time.RFC3339Nano),
		Key:          m.Key,
	}
}

// EncodeMessage marshals a message into a broadcast payload.
func EncodeMessage(m ChatMessage) (json.RawMessage, error) {
	data, err := json.Marshal(m.Payload())
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// DecodeMessage parses and validates an inbound broadcast payload.
// Any shape problem is reported as ErrMalformedMessage.
func DecodeMessage(raw json.RawMessage) (ChatMessage, error) {
	var p MessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return ChatMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return p.Message()
}

// Message validates the payload and converts it into a ChatMessage.
func (p MessagePayload) Message() (ChatMessage, error) {
	if err := validate.Struct(p); err != nil {
		return ChatMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if strings.TrimSpace(p.Text) == "" {
		return ChatMessage{}, fmt.Errorf("%w: blank text", ErrMalformedMessage)
	}
	sentAt, err := time.Parse(time.RFC3339Nano, p.SentAt)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("%w: sent_at: %v", ErrMalformedMessage, err)
	}
	return ChatMessage{
		Text:         p.Text,
		SenderID:     p.SenderID,
		SenderName:   p.SenderName,
		SenderAvatar: p.SenderAvatar,
		SentAt:       sentAt.UTC(),
		Key:          p.Key,
	}, nil
}
