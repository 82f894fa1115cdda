package core

// MaxPendingEchoes bounds the echo keys a ledger waits on. On transports that
// never echo, the oldest keys are forgotten once the bound is reached.
const MaxPendingEchoes = 64

// Ledger owns the append-only message log of one channel binding and
// recognises local echoes of messages this participant sent.
type Ledger struct {
	log     []ChatMessage
	pending map[string]struct{}
	order   []string
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{pending: make(map[string]struct{})}
}

// Expect records that a local message with key is about to be emitted, so a
// transport echo of it is consumed instead of appended a second time.
func (l *Ledger) Expect(key string) {
	if key == "" {
		return
	}
	if _, ok := l.pending[key]; ok {
		return
	}
	l.pending[key] = struct{}{}
	l.order = append(l.order, key)
	for len(l.order) > MaxPendingEchoes {
		delete(l.pending, l.order[0])
		l.order = l.order[1:]
	}
}

// Pending returns the number of echo keys still awaited.
func (l *Ledger) Pending() int {
	return len(l.pending)
}

// AppendLocal appends a locally originated message.
func (l *Ledger) AppendLocal(m ChatMessage) {
	l.log = append(l.log, m)
}

// Receive appends a remote message in arrival order. It returns false when
// the message is the echo of an outstanding local send and was dropped.
func (l *Ledger) Receive(m ChatMessage) bool {
	if m.Key != "" {
		if _, ok := l.pending[m.Key]; ok {
			delete(l.pending, m.Key)
			for i, k := range l.order {
				if k == m.Key {
					l.order = append(l.order[:i], l.order[i+1:]...)
					break
				}
			}
			return false
		}
	}
	l.log = append(l.log, m)
	return true
}

// Messages returns a copy of the log.
func (l *Ledger) Messages() []ChatMessage {
	out := make([]ChatMessage, len(l.log))
	copy(out, l.log)
	return out
}

// Len returns the number of logged messages.
func (l *Ledger) Len() int {
	return len(l.log)
}

// Reset discards the log and any outstanding echo keys.
func (l *Ledger) Reset() {
	l.log = nil
	l.pending = make(map[string]struct{})
	l.order = nil
}
