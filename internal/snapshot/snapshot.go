// Package snapshot reads and atomically rewrites the persisted tabular
// snapshot files. A reader can never observe a truncated or interleaved
// snapshot: rows are serialized to a temporary file in the target directory,
// synced, then renamed over the target in one step.
package snapshot

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ticketcore/internal/retry"
)

// RenamePolicy bounds retries of the rename step alone. Some platforms hold
// an exclusive lock on the target while a spreadsheet application has the
// file open; the temporary file is kept available across those retries.
var RenamePolicy = retry.Policy{Attempts: 6, Base: 250 * time.Millisecond}

// rename is swapped in tests to simulate a locked target.
var rename = os.Rename

// Write atomically replaces the snapshot at path with header plus rows. On
// failure the previous snapshot is left intact and the temporary file is
// removed.
func Write(path string, header []string, rows [][]string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write snapshot header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write snapshot row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot temp: %w", err)
	}

	if err := RenamePolicy.Do("snapshot rename", func() error {
		return rename(tmpPath, path)
	}); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// Read loads a snapshot file. An absent file yields a nil header and no rows:
// the table starts empty. Rows are returned raw; typed parsing and arity
// checks belong to the record schema.
func Read(path string) (header []string, rows [][]string, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	return all[0], all[1:], nil
}
