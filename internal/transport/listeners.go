package transport

import (
	"encoding/json"
	"sync"
)

// Listeners is a registry of broadcast and presence handlers shared by
// channel implementations.
type Listeners struct {
	mu        sync.Mutex
	nextID    int
	broadcast map[int]broadcastListener
	presence  map[int]func()
}

type broadcastListener struct {
	event   string
	handler func(json.RawMessage)
}

// AddBroadcast registers handler for event and returns its remover.
func (l *Listeners) AddBroadcast(event string, handler func(json.RawMessage)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.broadcast == nil {
		l.broadcast = make(map[int]broadcastListener)
	}
	id := l.nextID
	l.nextID++
	l.broadcast[id] = broadcastListener{event: event, handler: handler}
	return func() {
		l.mu.Lock()
		delete(l.broadcast, id)
		l.mu.Unlock()
	}
}

// AddPresence registers a presence sync handler and returns its remover.
func (l *Listeners) AddPresence(handler func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.presence == nil {
		l.presence = make(map[int]func())
	}
	id := l.nextID
	l.nextID++
	l.presence[id] = handler
	return func() {
		l.mu.Lock()
		delete(l.presence, id)
		l.mu.Unlock()
	}
}

// Broadcast returns the handlers registered for event, in registration order.
func (l *Listeners) Broadcast(event string) []func(json.RawMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]func(json.RawMessage), 0, len(l.broadcast))
	for id := 0; id < l.nextID; id++ {
		if bl, ok := l.broadcast[id]; ok && bl.event == event {
			out = append(out, bl.handler)
		}
	}
	return out
}

// Presence returns the presence sync handlers, in registration order.
func (l *Listeners) Presence() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]func(), 0, len(l.presence))
	for id := 0; id < l.nextID; id++ {
		if h, ok := l.presence[id]; ok {
			out = append(out, h)
		}
	}
	return out
}

// Clear drops every handler.
func (l *Listeners) Clear() {
	l.mu.Lock()
	l.broadcast = nil
	l.presence = nil
	l.mu.Unlock()
}

// Len returns the number of registered handlers.
func (l *Listeners) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.broadcast) + len(l.presence)
}
