package core

import "github.com/samber/lo"

// PresenceSet is the set of participant keys currently online in a room.
// It is always rebuilt from a full membership snapshot and never patched.
type PresenceSet struct {
	keys []string
}

// Replace discards the current set and adopts the snapshot. Empty keys and
// duplicates are dropped; the remaining keys keep snapshot order.
func (p *PresenceSet) Replace(snapshot []string) {
	keys := lo.Uniq(lo.Compact(snapshot))
	p.keys = keys
}

// Keys returns a copy of the online keys in snapshot order.
func (p *PresenceSet) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of online participants.
func (p *PresenceSet) Len() int {
	return len(p.keys)
}

// Contains reports whether key is online.
func (p *PresenceSet) Contains(key string) bool {
	return lo.Contains(p.keys, key)
}

// Reset empties the set.
func (p *PresenceSet) Reset() {
	p.keys = nil
}
