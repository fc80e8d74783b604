// Package table provides the in-memory keyed collection guarding each logical
// table behind a single exclusive lock.
package table

import "sync"

// Table is a keyed collection of value records for one entity type. Every
// read-modify-write sequence spanning a consistency invariant must run inside
// one WithLock call so it cannot interleave with a concurrent mutation.
type Table[K comparable, R any] struct {
	mu   sync.Mutex
	rows map[K]R
}

// New returns an empty table.
func New[K comparable, R any]() *Table[K, R] {
	return &Table[K, R]{rows: make(map[K]R)}
}

// Tx exposes the table rows while the exclusive lock is held. A Tx must not
// escape the WithLock callback.
type Tx[K comparable, R any] struct {
	rows map[K]R
}

// Get returns the record stored under key.
func (tx *Tx[K, R]) Get(key K) (R, bool) {
	r, ok := tx.rows[key]
	return r, ok
}

// Upsert inserts or replaces the record stored under key.
func (tx *Tx[K, R]) Upsert(key K, record R) {
	tx.rows[key] = record
}

// Delete removes key, reporting whether it was present.
func (tx *Tx[K, R]) Delete(key K) bool {
	if _, ok := tx.rows[key]; !ok {
		return false
	}
	delete(tx.rows, key)
	return true
}

// RemoveWhere deletes every record satisfying pred and returns the count.
func (tx *Tx[K, R]) RemoveWhere(pred func(K, R) bool) int {
	removed := 0
	for k, r := range tx.rows {
		if pred(k, r) {
			delete(tx.rows, k)
			removed++
		}
	}
	return removed
}

// Range calls fn for every record until fn returns false.
func (tx *Tx[K, R]) Range(fn func(K, R) bool) {
	for k, r := range tx.rows {
		if !fn(k, r) {
			return
		}
	}
}

// Len returns the row count.
func (tx *Tx[K, R]) Len() int { return len(tx.rows) }

// WithLock runs fn with the table lock held.
func (t *Table[K, R]) WithLock(fn func(*Tx[K, R])) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&Tx[K, R]{rows: t.rows})
}

// Snapshot returns a consistent copy of all rows.
func (t *Table[K, R]) Snapshot() map[K]R {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[K]R, len(t.rows))
	for k, r := range t.rows {
		out[k] = r
	}
	return out
}

// Upsert inserts or replaces one record under the lock.
func (t *Table[K, R]) Upsert(key K, record R) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[key] = record
}

// Get returns the record stored under key.
func (t *Table[K, R]) Get(key K) (R, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rows[key]
	return r, ok
}

// RemoveWhere deletes every record satisfying pred and returns the count.
func (t *Table[K, R]) RemoveWhere(pred func(K, R) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return (&Tx[K, R]{rows: t.rows}).RemoveWhere(pred)
}

// Replace swaps in a whole new row set (reconciliation and reset).
func (t *Table[K, R]) Replace(rows map[K]R) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = make(map[K]R, len(rows))
	for k, r := range rows {
		t.rows[k] = r
	}
}

// Len returns the row count.
func (t *Table[K, R]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}
