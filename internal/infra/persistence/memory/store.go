// Package memory provides an in-memory snapshot backend for tests and
// ephemeral environments.
package memory

import "sync"

type tableData struct {
	header []string
	rows   [][]string
}

// Store keeps table snapshots in process memory.
type Store struct {
	mu     sync.RWMutex
	tables map[string]tableData
}

// New returns an empty in-memory snapshot store.
func New() *Store {
	return &Store{tables: make(map[string]tableData)}
}

// Driver returns the backend identifier.
func (s *Store) Driver() string { return "memory" }

// Load returns a copy of the stored table; a never-written table is empty.
func (s *Store) Load(table string) ([]string, [][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.tables[table]
	if !ok {
		return nil, nil, nil
	}
	header := append([]string(nil), data.header...)
	rows := make([][]string, len(data.rows))
	for i, row := range data.rows {
		rows[i] = append([]string(nil), row...)
	}
	return header, rows, nil
}

// Write replaces the stored table with copies of header and rows.
func (s *Store) Write(table string, header []string, rows [][]string) error {
	cp := tableData{header: append([]string(nil), header...)}
	cp.rows = make([][]string, len(rows))
	for i, row := range rows {
		cp.rows[i] = append([]string(nil), row...)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = cp
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
