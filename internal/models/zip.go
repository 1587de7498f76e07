package models

import (
	"time"
)

// ConvertedImageZip is the optional downloadable artifact holding the
// WebP-converted images of a completed scan. The filesystem file lives
// under the configured zips root; the row and file expire together after
// a fixed six-hour window.
type ConvertedImageZip struct {
	DownloadID string `json:"downloadId" badgerhold:"key"`
	ScanID     string `json:"scanId" badgerhold:"index"`

	FilePath   string `json:"filePath"`
	Filename   string `json:"filename"`
	SizeBytes  int64  `json:"sizeBytes"`
	ImageCount int    `json:"imageCount"`

	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the artifact is past its expiry
func (z *ConvertedImageZip) Expired(now time.Time) bool {
	return !now.Before(z.ExpiresAt)
}
