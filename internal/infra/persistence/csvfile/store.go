// Package csvfile implements the default snapshot backend: one UTF-8
// comma-separated text file per table, rewritten atomically.
package csvfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"ticketcore/internal/snapshot"
)

// Store persists each table to <root>/<table>.csv via the atomic snapshot
// writer.
type Store struct {
	root string
}

// New returns a CSV snapshot store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = "./ticketdata"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{root: dir}, nil
}

// Driver returns the backend identifier.
func (s *Store) Driver() string { return "csv" }

// Path returns the snapshot file path for a table.
func (s *Store) Path(table string) string {
	return filepath.Join(s.root, table+".csv")
}

// Load reads the table snapshot; a missing file is an empty table.
func (s *Store) Load(table string) ([]string, [][]string, error) {
	return snapshot.Read(s.Path(table))
}

// Write atomically replaces the table snapshot.
func (s *Store) Write(table string, header []string, rows [][]string) error {
	return snapshot.Write(s.Path(table), header, rows)
}

// Close is a no-op; every write already syncs to the storage medium.
func (s *Store) Close() error { return nil }
