package watch

import "sync"

// Ledger is the append-only record of post IDs whose image has been
// submitted for classification. Entries are never removed; together
// with the high-water mark this gives at-most-once dispatch per image
// for the process lifetime. It is not persisted across restarts, so it
// must only ever be reset together with the mark.
type Ledger struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{ids: make(map[int64]struct{})}
}

// Has reports whether the post's image was already dispatched.
func (l *Ledger) Has(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.ids[id]
	return ok
}

// Record marks the post's image as dispatched. Recording an
// already-present ID is a no-op.
func (l *Ledger) Record(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids[id] = struct{}{}
}

// Len returns the number of recorded IDs.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}
