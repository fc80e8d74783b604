// Package archive abstracts long-term storage for rotated journal files and
// snapshot exports produced by administrative reset. Live state never moves
// through here; archives are write-once audit artifacts.
package archive

import (
	"context"
	"fmt"
	"os"

	"ticketcore/internal/archive/core"
	"ticketcore/internal/infra/archive/fs"
	"ticketcore/internal/infra/archive/memory"
	"ticketcore/internal/infra/archive/s3"
)

type (
	// Driver identifies an archive backend driver.
	Driver = core.Driver
	// Info describes stored archive object metadata.
	Info = core.Info
	// Store is the interface for archive storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

// Compile-time contract assertions for every driver.
var (
	_ Store = (*fs.Store)(nil)
	_ Store = (*memory.Store)(nil)
	_ Store = (*s3.Store)(nil)
)

// Open selects an archive backend using environment variables.
//
//	TICKETCORE_ARCHIVE_DRIVER: fs|s3|memory (default fs)
//	TICKETCORE_ARCHIVE_FS_ROOT: directory root when driver=fs (default ./ticketarchive)
//	(S3 specific variables documented in the s3 driver)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("TICKETCORE_ARCHIVE_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return fs.New(os.Getenv("TICKETCORE_ARCHIVE_FS_ROOT"))
	case DriverS3:
		return s3.OpenFromEnv(ctx)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown archive driver %s", driver)
	}
}
