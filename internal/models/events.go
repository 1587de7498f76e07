package models

import (
	"time"
)

// EventType identifies a progress event on the realtime channel
type EventType string

const (
	EventQueuePositionUpdate EventType = "queuePositionUpdate"
	EventScanStarted         EventType = "scanStarted"
	EventPageProgress        EventType = "pageProgress"
	EventImageFound          EventType = "imageFound"
	EventScanComplete        EventType = "scanComplete"
	EventScanFailed          EventType = "scanFailed"
	EventStatsUpdate         EventType = "statsUpdate"
)

// ScanGroup returns the subscription group name for a scan
func ScanGroup(scanID string) string {
	return "scan-" + scanID
}

// StatsGroup is the global aggregate-stats subscription group
const StatsGroup = "stats-updates"

// QueuePositionUpdate is broadcast on enqueue, on claim, and throttled
// during page progress while a job still waits.
type QueuePositionUpdate struct {
	ScanID               string `json:"scanId"`
	QueuePosition        int    `json:"queuePosition"`
	EstimatedWaitSeconds int    `json:"estimatedWaitSeconds"` // -1 when unknown
}

// ScanStarted marks the queued -> processing transition
type ScanStarted struct {
	ScanID    string    `json:"scanId"`
	URL       string    `json:"url"`
	StartedAt time.Time `json:"startedAt"`
}

// PageProgress is emitted after each scanned page. PagesScanned is
// monotonically non-decreasing within one scan.
type PageProgress struct {
	ScanID             string  `json:"scanId"`
	PagesScanned       int     `json:"pagesScanned"`
	PagesDiscovered    int     `json:"pagesDiscovered"`
	NonWebPImagesFound int     `json:"nonWebPImagesCount"`
	CurrentURL         string  `json:"currentUrl,omitempty"`
	ProgressPercent    float64 `json:"progressPercent"`
}

// ImageFound is emitted once per non-WebP image first sighting
type ImageFound struct {
	ScanID                  string  `json:"scanId"`
	ImageURL                string  `json:"imageUrl"`
	MimeType                string  `json:"mimeType"`
	SizeBytes               int64   `json:"sizeBytes"`
	PotentialSavingsPercent float64 `json:"potentialSavingsPercent"`
	PotentialSavingsBytes   int64   `json:"potentialSavingsBytes"`
	Category                string  `json:"category"`
}

// ScanComplete is the terminal success event
type ScanComplete struct {
	ScanID              string  `json:"scanId"`
	PagesScanned        int     `json:"pagesScanned"`
	PagesDiscovered     int     `json:"pagesDiscovered"`
	NonWebPImagesFound  int     `json:"nonWebPImagesCount"`
	TotalSavingsBytes   int64   `json:"totalSavingsBytes"`
	AverageSavingsPct   float64 `json:"averageSavingsPercent"`
	ReachedPageLimit    bool    `json:"reachedPageLimit"`
	ReportAvailable     bool    `json:"reportAvailable"`
	ZipDownloadID       string  `json:"zipDownloadId,omitempty"`
	DurationSeconds     float64 `json:"durationSeconds"`
}

// ScanFailed is the terminal failure event
type ScanFailed struct {
	ScanID       string `json:"scanId"`
	ErrorMessage string `json:"errorMessage"`
}

// StatsUpdate carries an aggregate-stats snapshot to the global group
type StatsUpdate struct {
	TotalScans                  int64                `json:"totalScans"`
	TotalPagesCrawled           int64                `json:"totalPagesCrawled"`
	TotalImagesFound            int64                `json:"totalImagesFound"`
	TotalOriginalSizeBytes      int64                `json:"totalOriginalSizeBytes"`
	TotalEstimatedWebPSizeBytes int64                `json:"totalEstimatedWebpSizeBytes"`
	AverageSavingsPercent       float64              `json:"averageSavingsPercent"`
	ByMimeType                  []StatsTypeBreakdown `json:"byMimeType"`
	ByCategory                  []StatsTypeBreakdown `json:"byCategory"`
	Timestamp                   time.Time            `json:"timestamp"`
}

// StatsTypeBreakdown is one per-MIME or per-category row of a snapshot
type StatsTypeBreakdown struct {
	Key                    string `json:"key"`
	Count                  int64  `json:"count"`
	OriginalSizeBytes      int64  `json:"originalSizeBytes"`
	EstimatedWebPSizeBytes int64  `json:"estimatedWebpSizeBytes"`
}

// ScanProgressSnapshot is the reconnect snapshot returned by
// GetCurrentProgress. Computed from the checkpoint when present,
// otherwise from the job row; nil for unknown scans.
type ScanProgressSnapshot struct {
	ScanID             string     `json:"scanId"`
	Status             ScanStatus `json:"status"`
	PagesScanned       int        `json:"pagesScanned"`
	PagesDiscovered    int        `json:"pagesDiscovered"`
	NonWebPImagesCount int        `json:"nonWebPImagesCount"`
	QueuePosition      int        `json:"queuePosition,omitempty"`
	ProgressPercent    float64    `json:"progressPercent"`
	CurrentURL         string     `json:"currentUrl,omitempty"`
	ErrorMessage       string     `json:"errorMessage,omitempty"`
}
