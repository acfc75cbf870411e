package topology

import (
	"sync"

	"github.com/google/uuid"
)

// PendingEntry is a single ensure-delivery message retained so it can be
// replayed to a node that rejoins the ring after being skipped.
type PendingEntry struct {
	ID      uuid.UUID // wire message id, matched by MessageDiscard
	Version uint64    // the topology version this entry produced, if any
	Kind    string    // wire message variant name
	Payload any
}

// PendingLog is a bounded, version-ordered buffer of ensure-delivery
// messages. The ring writer appends to it as messages are emitted and
// replays it to the neighbor-after-next after a skip; the client router
// replays the entries newer than a reconnecting client's last version.
//
// It is safe for concurrent use.
type PendingLog struct {
	mu      sync.Mutex
	cap     int
	entries []PendingEntry
	dropped uint64
}

// NewPendingLog returns a PendingLog that retains at most capacity
// entries, evicting the oldest once full.
func NewPendingLog(capacity int) *PendingLog {
	if capacity <= 0 {
		capacity = 1
	}
	return &PendingLog{cap: capacity}
}

// Append records entry, evicting the oldest entry if the log is full.
func (l *PendingLog) Append(e PendingEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) >= l.cap {
		l.entries = l.entries[1:]
		l.dropped++
	}
	l.entries = append(l.entries, e)
}

// Since returns every retained entry produced at a topology version
// strictly greater than version, in order. A caller that receives fewer
// entries than it expects (because of eviction) must fall back to a
// full resync; Dropped reports whether eviction has occurred at all.
func (l *PendingLog) Since(version uint64) []PendingEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PendingEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.Version > version {
			out = append(out, e)
		}
	}
	return out
}

// All returns every retained entry, in order, regardless of version —
// the form the ring writer prefixes onto the forward stream when
// replaying to a newly (re)connected neighbor.
func (l *PendingLog) All() []PendingEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PendingEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Discard removes every entry whose message id equals id, the trim a
// MessageDiscard signal applies as it traverses the ring. Reports whether anything was removed.
func (l *PendingLog) Discard(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.entries[:0]
	removed := false
	for _, e := range l.entries {
		if e.ID == id {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	return removed
}

// Dropped reports the number of entries evicted over the log's lifetime.
func (l *PendingLog) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Len reports the current number of retained entries.
func (l *PendingLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
