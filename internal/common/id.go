package common

import (
	"github.com/google/uuid"
)

// NewScanID generates a unique scan job ID with the "scan_" prefix
// Format: scan_<uuid>
func NewScanID() string {
	return "scan_" + uuid.New().String()
}

// NewDownloadID generates a unique zip download ID with the "dl_" prefix
func NewDownloadID() string {
	return "dl_" + uuid.New().String()
}

// NewImageID generates a unique discovered-image ID with the "img_" prefix
func NewImageID() string {
	return "img_" + uuid.New().String()
}
