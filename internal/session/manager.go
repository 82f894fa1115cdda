// Package session owns the single process-wide session value and republishes
// it on every identity provider change.
package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomsync/internal/core"
	"github.com/vovakirdan/roomsync/internal/identity"
)

// Manager tracks the current session.
type Manager struct {
	provider identity.Provider
	log      *zerolog.Logger

	mu      sync.Mutex
	current core.Session
	nextID  int
	subs    map[int]func(core.Session)
	off     func()
	stopped bool

	stopOnce sync.Once
}

// NewManager builds a manager on top of provider. It publishes nothing until Start.
func NewManager(provider identity.Provider, logger *zerolog.Logger) *Manager {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Manager{
		provider: provider,
		log:      logger,
		subs:     make(map[int]func(core.Session)),
	}
}

// Start probes the provider once for the initial session and then listens for
// changes. A failed probe publishes the signed-out session.
func (m *Manager) Start(ctx context.Context) {
	id, err := m.provider.Current(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("identity probe failed")
		id = nil
	}
	m.publish(core.NewSession(id))

	off := m.provider.OnChange(func(id *core.Identity) {
		m.publish(core.NewSession(id))
	})

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		off()
		return
	}
	m.off = off
	m.mu.Unlock()
}

// Current returns the last published session.
func (m *Manager) Current() core.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Subscribe registers fn for every published session and returns its remover.
func (m *Manager) Subscribe(fn func(core.Session)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Stop unregisters the provider listener. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		off := m.off
		m.off = nil
		m.mu.Unlock()
		if off != nil {
			off()
		}
		m.log.Debug().Msg("session manager stopped")
	})
}

func (m *Manager) publish(s core.Session) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.current = s
	fns := make([]func(core.Session), 0, len(m.subs))
	for i := 0; i < m.nextID; i++ {
		if fn, ok := m.subs[i]; ok {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	ev := m.log.Info().Bool("valid", s.Valid())
	if s.Valid() {
		ev = ev.Str("participant_id", s.Identity.ID)
	}
	ev.Msg("session changed")

	for _, fn := range fns {
		fn(s)
	}
}
