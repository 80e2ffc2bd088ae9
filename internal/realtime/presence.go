package realtime

import (
	"sync"
)

// PresenceEntry is one authenticated live connection.
type PresenceEntry struct {
	UserID      string
	Role        string
	VehicleType string
	Session     Sender
}

// PresenceStore tracks which identities currently hold a live connection and
// the channel to reach them. It is process-local and best-effort: it starts
// empty on restart and refills as clients reconnect. Behind an interface so a
// multi-process deployment can back it with a shared store.
type PresenceStore interface {
	Set(entry PresenceEntry)
	Get(userID string) (PresenceEntry, bool)
	Remove(userID string)
	// ListByRole returns all connected identities holding the given role.
	ListByRole(role string) []PresenceEntry
	Count() int
}

type memoryPresence struct {
	mu      sync.RWMutex
	entries map[string]PresenceEntry
}

func NewMemoryPresence() PresenceStore {
	return &memoryPresence{entries: make(map[string]PresenceEntry)}
}

func (p *memoryPresence) Set(entry PresenceEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[entry.UserID] = entry
}

func (p *memoryPresence) Get(userID string) (PresenceEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[userID]
	return e, ok
}

func (p *memoryPresence) Remove(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, userID)
}

func (p *memoryPresence) ListByRole(role string) []PresenceEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PresenceEntry, 0)
	for _, e := range p.entries {
		if e.Role == role {
			out = append(out, e)
		}
	}
	return out
}

func (p *memoryPresence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
