package models

import (
	"sort"
	"time"
)

// CrawlCheckpoint is the persisted resume state for one scan. One row per
// scan ID.
//
// Invariants:
//   - visited and pending are disjoint
//   - PagesVisited equals len(VisitedURLs)
//   - PagesDiscovered equals len(VisitedURLs) + len(PendingURLs)
type CrawlCheckpoint struct {
	ScanID string `json:"scanId" badgerhold:"key"`

	// VisitedURLs is stored sorted for canonical serialization so that
	// persist-then-reload round-trips are byte-equivalent.
	VisitedURLs []string `json:"visitedUrls"`
	// PendingURLs preserves frontier order; the crawler resumes from the
	// front of this sequence.
	PendingURLs []string `json:"pendingUrls"`

	PagesVisited       int    `json:"pagesVisited"`
	PagesDiscovered    int    `json:"pagesDiscovered"`
	NonWebPImagesFound int    `json:"nonWebPImagesFound"`
	CurrentURL         string `json:"currentUrl,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Canonicalize sorts the visited set and recomputes the derived counters
// from the stored sets. Called before every persist.
func (c *CrawlCheckpoint) Canonicalize() {
	sort.Strings(c.VisitedURLs)
	c.PagesVisited = len(c.VisitedURLs)
	c.PagesDiscovered = len(c.VisitedURLs) + len(c.PendingURLs)
}

// Valid reports whether the checkpoint invariants hold
func (c *CrawlCheckpoint) Valid() bool {
	visited := make(map[string]bool, len(c.VisitedURLs))
	for _, u := range c.VisitedURLs {
		visited[u] = true
	}
	for _, u := range c.PendingURLs {
		if visited[u] {
			return false
		}
	}
	return c.PagesVisited == len(c.VisitedURLs) &&
		c.PagesDiscovered == len(c.VisitedURLs)+len(c.PendingURLs)
}
