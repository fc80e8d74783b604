// Package persistence selects and abstracts the snapshot storage backend.
// The write-ahead journal is always file-based regardless of driver; only the
// materialized table snapshots move between backends.
package persistence

import (
	"fmt"
	"os"
	"path/filepath"

	"ticketcore/internal/infra/persistence/csvfile"
	"ticketcore/internal/infra/persistence/memory"
	"ticketcore/internal/infra/persistence/postgres"
	"ticketcore/internal/infra/persistence/sqlite"
)

// Driver identifies a concrete snapshot backend implementation.
type Driver string

const (
	// DriverCSV stores one comma-separated text file per table (default).
	DriverCSV Driver = "csv"
	// DriverMemory keeps snapshots in process memory (tests / ephemeral).
	DriverMemory Driver = "memory"
	// DriverSQLite stores snapshots as JSON buckets in an embedded sqlite file.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres stores snapshots as JSONB buckets in a PostgreSQL server.
	DriverPostgres Driver = "postgres"
)

// Backend persists whole-table snapshots. Load returns a nil header when the
// table has never been written; Write replaces the table wholesale and must
// never leave a partially written table visible to a subsequent Load.
type Backend interface {
	Load(table string) (header []string, rows [][]string, err error)
	Write(table string, header []string, rows [][]string) error
	Driver() string
	Close() error
}

// Compile-time contract assertions for every driver.
var (
	_ Backend = (*csvfile.Store)(nil)
	_ Backend = (*memory.Store)(nil)
	_ Backend = (*sqlite.Store)(nil)
	_ Backend = (*postgres.Store)(nil)
)

// Open selects a backend using environment variables, defaulting to the CSV
// driver rooted at dataDir.
//
//	TICKETCORE_STORAGE_DRIVER: csv|memory|sqlite|postgres (default csv)
//	TICKETCORE_SQLITE_PATH: sqlite file path (default <dataDir>/ticketcore.db)
//	TICKETCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func Open(dataDir string) (Backend, error) {
	driver := os.Getenv("TICKETCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(DriverCSV)
	}
	switch Driver(driver) {
	case DriverCSV:
		return csvfile.New(dataDir)
	case DriverMemory:
		return memory.New(), nil
	case DriverSQLite:
		path := os.Getenv("TICKETCORE_SQLITE_PATH")
		if path == "" {
			path = filepath.Join(dataDir, "ticketcore.db")
		}
		return sqlite.New(path)
	case DriverPostgres:
		return postgres.New(os.Getenv("TICKETCORE_POSTGRES_DSN"))
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
