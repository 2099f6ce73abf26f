// Package oplog implements the per-document operation log: an append-only
// record of accepted operations, indexed by monotonically increasing
// server version, with a bounded retention window.
package oplog

import (
	"sync"
	"time"

	"github.com/collabd/collabd/pkg/ot"
)

// Entry is one immutable, accepted operation.
type Entry struct {
	Op            ot.Operation
	AuthorID      string
	ServerVersion int
	AcceptedAt    time.Time
}

// Log is an ordered, append-only sequence of Entry keyed by ServerVersion,
// retaining only the most recent maxEntries (0 means unbounded). Safe for
// concurrent use; callers needing atomicity across append+read (e.g. the
// hub's Submit critical section) must still serialize their own calls.
type Log struct {
	mu         sync.RWMutex
	entries    []Entry
	baseline   int // server_version of entries[0]-1; entries evicted below this
	maxEntries int
}

// New creates a Log starting at the given baseline version (0 for a brand
// new document, or the version at which a persisted document was loaded).
func New(baseline, maxEntries int) *Log {
	return &Log{baseline: baseline, maxEntries: maxEntries}
}

// Append assigns the next server_version to op and records it. The caller
// must already hold whatever external serialization guarantees a single
// writer (the hub's mutation lock) — Append itself only guards the slice.
func (l *Log) Append(op ot.Operation, authorID string, acceptedAt time.Time) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		Op:            op,
		AuthorID:      authorID,
		ServerVersion: l.currentVersionLocked() + 1,
		AcceptedAt:    acceptedAt,
	}
	l.entries = append(l.entries, entry)

	if l.maxEntries > 0 && len(l.entries) > l.maxEntries {
		evict := len(l.entries) - l.maxEntries
		l.baseline += evict
		l.entries = l.entries[evict:]
	}

	return entry
}

// TailSince returns the ordered slice of entries with ServerVersion > v.
// The second return value is false if v is older than the retained window
// or newer than the current version, which the hub treats as
// ResyncRequired.
func (l *Log) TailSince(v int) ([]Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if v < l.baseline || v > l.currentVersionLocked() {
		return nil, false
	}
	if len(l.entries) == 0 {
		return nil, true
	}

	first := l.entries[0].ServerVersion
	offset := v - first + 1
	if offset < 0 {
		offset = 0
	}
	if offset >= len(l.entries) {
		return nil, true
	}

	tail := make([]Entry, len(l.entries)-offset)
	copy(tail, l.entries[offset:])
	return tail, true
}

// Length returns the current document version: the number of entries ever
// appended, including ones since evicted from the retained window.
func (l *Log) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.currentVersionLocked()
}

func (l *Log) currentVersionLocked() int {
	if len(l.entries) == 0 {
		return l.baseline
	}
	return l.entries[len(l.entries)-1].ServerVersion
}

// RetentionFloor returns the oldest server_version a TailSince call can
// still serve without triggering resync.
func (l *Log) RetentionFloor() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.baseline
}
