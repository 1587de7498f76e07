package models

import (
	"time"
)

// ScanStatus represents the state of a scan job
type ScanStatus string

const (
	ScanStatusQueued     ScanStatus = "queued"
	ScanStatusProcessing ScanStatus = "processing"
	ScanStatusCompleted  ScanStatus = "completed"
	ScanStatusFailed     ScanStatus = "failed"
)

// IsTerminal reports whether the status is final. Terminal jobs are
// immutable; only retention may remove them.
func (s ScanStatus) IsTerminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusFailed
}

// ScanJob is the unit of work: one user-submitted URL to crawl.
//
// Lifecycle:
//   - Created by admission with status queued
//   - Claimed by a worker (queued -> processing, StartedAt stamped)
//   - Mutated only by the owning worker while processing
//   - Finished as completed or failed (CompletedAt stamped)
//   - Deleted by retention after the configured TTL
type ScanJob struct {
	ID          string     `json:"id" badgerhold:"key"`
	URL         string     `json:"url"`
	Email       string     `json:"email,omitempty"`
	SubmitterIP string     `json:"submitterIp" badgerhold:"index"`
	// SubmissionCount is the 1-based index of this submitter's nth queued
	// job at enqueue time. It drives fair-share bucketing and is persisted
	// so the ordering survives restarts.
	SubmissionCount int `json:"submissionCount"`
	// PriorityScore is the base score computed at enqueue. The effective
	// score used for ordering is recomputed on read by subtracting aging;
	// this field never drifts.
	PriorityScore float64    `json:"priorityScore"`
	Status        ScanStatus `json:"status" badgerhold:"index"`
	ConvertToWebP bool       `json:"convertToWebP"`

	CreatedAt   time.Time  `json:"createdAt" badgerhold:"index"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	PagesDiscovered    int  `json:"pagesDiscovered"`
	PagesScanned       int  `json:"pagesScanned"`
	NonWebPImagesFound int  `json:"nonWebPImagesFound"`
	ReachedPageLimit   bool `json:"reachedPageLimit"`

	// ErrorMessage holds a concise, user-facing reason when status is
	// failed (e.g. "Initial URL unreachable: connection refused").
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// ProgressPercent returns completion as 0-100 based on the frontier.
// Discovered pages that were never scanned (page limit) still count
// toward the denominator so the bar does not show 100% early.
func (j *ScanJob) ProgressPercent() float64 {
	if j.Status == ScanStatusCompleted {
		return 100
	}
	if j.PagesDiscovered <= 0 {
		return 0
	}
	pct := float64(j.PagesScanned) / float64(j.PagesDiscovered) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Host returns the comparable host of the target URL (empty when invalid)
func (j *ScanJob) Host() string {
	return hostOf(j.URL)
}
