// Package postgres persists table snapshots as JSONB buckets in a PostgreSQL
// server, mirroring the sqlite backend's bucket scheme.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/ticketcore?sslmode=disable"
)

var sqlOpen = sql.Open

// Store writes one bucket row per table into a `state` table.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

type bucketPayload struct {
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// New opens a Postgres-backed snapshot store using the provided DSN (falls
// back to a local default) and ensures the state table exists.
func New(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sqlOpen(defaultDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure state table: %w", err)
	}
	return &Store{db: db}, nil
}

// Driver returns the backend identifier.
func (s *Store) Driver() string { return "postgres" }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Load reads a table bucket; a missing bucket is an empty table.
func (s *Store) Load(table string) ([]string, [][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var raw []byte
	err := s.db.QueryRow(`SELECT payload FROM state WHERE bucket = $1`, table).Scan(&raw)
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
		`INSERT INTO state (bucket, payload) VALUES ($1, $2)
		 ON CONFLICT (bucket) DO UPDATE SET payload = excluded.payload`,
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
