package models

import (
	"time"
)

// DiscoveredImage records the first sighting of a non-WebP image within a
// scan. Each image URL is analyzed at most once per scan; later sightings
// on other pages append to PageURLs.
type DiscoveredImage struct {
	ID     string `json:"id" badgerhold:"key"`
	ScanID string `json:"scanId" badgerhold:"index"`

	ImageURL string `json:"imageUrl"`
	// PageURLs lists every page on which the image appeared. Treated as a
	// set; AddPageURL keeps it duplicate-free.
	PageURLs []string `json:"pageUrls"`

	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`

	PotentialSavingsPercent float64 `json:"potentialSavingsPercent"`
	PotentialSavingsBytes   int64   `json:"potentialSavingsBytes"`
	Category                string  `json:"category"`

	DiscoveredAt time.Time `json:"discoveredAt"`
}

// AddPageURL appends a page URL if not already recorded. Returns true
// when the set changed.
func (i *DiscoveredImage) AddPageURL(pageURL string) bool {
	for _, existing := range i.PageURLs {
		if existing == pageURL {
			return false
		}
	}
	i.PageURLs = append(i.PageURLs, pageURL)
	return true
}
