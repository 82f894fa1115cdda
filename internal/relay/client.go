package relay

import (
	"encoding/json"
	"sync"
)

// DefaultClientBuffer is the event queue size used when none is configured.
const DefaultClientBuffer = 32

// Client is one connection as seen by the hub.
type Client struct {
	ID       string
	Commands chan *Command
	Events   chan *Event

	// Owned by the hub goroutine.
	room    string
	key     string
	self    bool
	tracked bool
	payload json.RawMessage

	done     chan struct{}
	doneOnce sync.Once
	pumped   chan struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	return &Client{
		ID:       id,
		Commands: make(chan *Command, 8),
		Events:   make(chan *Event, buffer),
		done:     make(chan struct{}),
		pumped:   make(chan struct{}),
	}
}

func (c *Client) stop() {
	c.doneOnce.Do(func() { close(c.done) })
}
