package interfaces

import (
	"errors"
)

var (
	// ErrScanNotFound is returned when a scan job does not exist
	ErrScanNotFound = errors.New("scan not found")
	// ErrImageNotFound is returned when a discovered image does not exist
	ErrImageNotFound = errors.New("image not found")
	// ErrCheckpointNotFound is returned when a scan has no checkpoint
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrZipNotFound is returned when a download ID does not exist
	ErrZipNotFound = errors.New("zip not found")
	// ErrVersionConflict signals an optimistic-concurrency failure; the
	// caller re-reads and retries.
	ErrVersionConflict = errors.New("version conflict")
	// ErrTerminalScan is returned on attempts to mutate a completed or
	// failed scan.
	ErrTerminalScan = errors.New("scan is in a terminal state")
)

// IsNotFound reports whether err is any of the repository not-found
// sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrScanNotFound) ||
		errors.Is(err, ErrImageNotFound) ||
		errors.Is(err, ErrCheckpointNotFound) ||
		errors.Is(err, ErrZipNotFound)
}

// IsVersionConflict reports whether err is the optimistic-concurrency
// sentinel.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
