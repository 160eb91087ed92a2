package annotation

import (
	"sync"

	"github.com/google/uuid"
)

// recordLocks serializes mutations per annotation ID so a reviewer edit and
// an automated re-run cannot interleave on the same record. Entries are
// reference-counted and removed once the last holder releases, so a
// long-lived daemon does not accumulate one mutex per record ever touched.
type recordLocks struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (l *recordLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	if l.entries == nil {
		l.entries = make(map[uuid.UUID]*lockEntry)
	}
	e := l.entries[id]
	if e == nil {
		e = &lockEntry{}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}
