package badger

import (
	"github.com/ternarybob/webpscan/internal/interfaces"
)

// Repository sentinels live on the interfaces package so callers never
// import the storage implementation; aliased here for brevity.
var (
	ErrScanNotFound       = interfaces.ErrScanNotFound
	ErrImageNotFound      = interfaces.ErrImageNotFound
	ErrCheckpointNotFound = interfaces.ErrCheckpointNotFound
	ErrZipNotFound        = interfaces.ErrZipNotFound
	ErrVersionConflict    = interfaces.ErrVersionConflict
	ErrTerminalScan       = interfaces.ErrTerminalScan
)
