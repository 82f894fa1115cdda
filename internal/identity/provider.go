// Package identity supplies the local participant identity to the session
// manager. Providers report the current identity once on request and push
// every later change, including refreshes that keep the same identity.
package identity

import (
	"context"
	"sync"

	"github.com/vovakirdan/roomsync/internal/core"
)

// Provider is an external source of the local participant identity.
type Provider interface {
	// Current returns the identity known right now, or nil when signed out.
	Current(ctx context.Context) (*core.Identity, error)
	// OnChange registers handler for identity changes and returns its remover.
	OnChange(handler func(*core.Identity)) (unsubscribe func())
}

// watchers is the change fan-out shared by providers.
type watchers struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(*core.Identity)
}

func (w *watchers) add(fn func(*core.Identity)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fns == nil {
		w.fns = make(map[int]func(*core.Identity))
	}
	id := w.nextID
	w.nextID++
	w.fns[id] = fn
	return func() {
		w.mu.Lock()
		delete(w.fns, id)
		w.mu.Unlock()
	}
}

func (w *watchers) notify(id *core.Identity) {
	w.mu.Lock()
	fns := make([]func(*core.Identity), 0, len(w.fns))
	for i := 0; i < w.nextID; i++ {
		if fn, ok := w.fns[i]; ok {
			fns = append(fns, fn)
		}
	}
	w.mu.Unlock()

	for _, fn := range fns {
		var cp *core.Identity
		if id != nil {
			v := *id
			cp = &v
		}
		fn(cp)
	}
}

// Static is a provider whose identity is set by the caller.
type Static struct {
	mu       sync.Mutex
	identity *core.Identity
	err      error
	watchers watchers
}

// NewStatic returns a provider holding id, which may be nil.
func NewStatic(id *core.Identity) *Static {
	s := &Static{}
	if id != nil {
		v := *id
		s.identity = &v
	}
	return s
}

// Current returns the held identity.
func (s *Static) Current(context.Context) (*core.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.identity == nil {
		return nil, nil
	}
	v := *s.identity
	return &v, nil
}

// OnChange registers a change handler.
func (s *Static) OnChange(handler func(*core.Identity)) func() {
	return s.watchers.add(handler)
}

// Set replaces the identity and notifies watchers. Setting the same identity
// again still notifies, as a refresh would.
func (s *Static) Set(id *core.Identity) {
	s.mu.Lock()
	if id == nil {
		s.identity = nil
	} else {
		v := *id
		s.identity = &v
	}
	s.mu.Unlock()
	s.watchers.notify(id)
}

// FailProbe makes Current return err until cleared with nil.
func (s *Static) FailProbe(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Watchers returns the number of registered change handlers.
func (s *Static) Watchers() int {
	s.watchers.mu.Lock()
	defer s.watchers.mu.Unlock()
	return len(s.watchers.fns)
}
