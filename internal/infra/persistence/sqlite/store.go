// Package sqlite persists table snapshots as JSON buckets in a single
// embedded SQLite table.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Store writes one bucket row per table into a `state` table. Each Write
// replaces the bucket in a transaction, so a Load never observes a partial
// table.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

type bucketPayload struct {
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// New opens (or creates) the snapshot database at path.
func New(path string) (*Store, error) {
	if path == "" {
		path = "ticketcore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Driver returns the backend identifier.
func (s *Store) Driver() string { return "sqlite" }

// Load reads a table bucket; a missing bucket is an empty table.
func (s *Store) Load(table string) ([]string, [][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var raw []byte
	err := s.db.QueryRow(`SELECT payload FROM state WHERE bucket = ?`, table).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("select bucket %s: %w", table, err)
	}
	var payload bucketPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, fmt.Errorf("decode bucket %s: %w", table, err)
	}
	return payload.Header, payload.Rows, nil
}

// Write replaces the table bucket.
func (s *Store) Write(table string, header []string, rows [][]string) error {
	raw, err := json.Marshal(bucketPayload{Header: header, Rows: rows})
	if err != nil {
		return fmt.Errorf("encode bucket %s: %w", table, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(
		`INSERT INTO state (bucket, payload) VALUES (?, ?)
		 ON CONFLICT(bucket) DO UPDATE SET payload = excluded.payload`,
		table, raw,
	); err != nil {
		return fmt.Errorf("upsert bucket %s: %w", table, err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
