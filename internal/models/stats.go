package models

import (
	"time"
)

// AggregateStatsKey is the fixed key of the singleton aggregate row
const AggregateStatsKey = "aggregate_stats"

// AggregateStats is the singleton service-wide counter row. Totals only
// grow from scan completions; retention subtracts a purged scan's
// contribution, clamped at zero. Version is the optimistic concurrency
// token bumped on every write.
type AggregateStats struct {
	ID string `json:"id" badgerhold:"key"`

	TotalScans                  int64   `json:"totalScans"`
	TotalPagesCrawled           int64   `json:"totalPagesCrawled"`
	TotalImagesFound            int64   `json:"totalImagesFound"`
	TotalOriginalSizeBytes      int64   `json:"totalOriginalSizeBytes"`
	TotalEstimatedWebPSizeBytes int64   `json:"totalEstimatedWebpSizeBytes"`
	SumSavingsPercent           float64 `json:"sumSavingsPercent"`

	LastUpdated time.Time `json:"lastUpdated"`
	Version     uint64    `json:"version"`
}

// AverageSavingsPercent returns SumSavingsPercent / TotalImagesFound
func (s *AggregateStats) AverageSavingsPercent() float64 {
	if s.TotalImagesFound == 0 {
		return 0
	}
	return s.SumSavingsPercent / float64(s.TotalImagesFound)
}

// AggregateImageTypeStat is a per-MIME-type child of AggregateStats
type AggregateImageTypeStat struct {
	MimeType               string    `json:"mimeType" badgerhold:"key"`
	Count                  int64     `json:"count"`
	OriginalSizeBytes      int64     `json:"originalSizeBytes"`
	EstimatedWebPSizeBytes int64     `json:"estimatedWebpSizeBytes"`
	LastUpdated            time.Time `json:"lastUpdated"`
	Version                uint64    `json:"version"`
}

// AggregateCategoryStat is a per-category child of AggregateStats
type AggregateCategoryStat struct {
	Category               string    `json:"category" badgerhold:"key"`
	Count                  int64     `json:"count"`
	OriginalSizeBytes      int64     `json:"originalSizeBytes"`
	EstimatedWebPSizeBytes int64     `json:"estimatedWebpSizeBytes"`
	LastUpdated            time.Time `json:"lastUpdated"`
	Version                uint64    `json:"version"`
}

// ScanContribution is one completed scan's additive share of the
// aggregate counters. Retention subtracts the identical structure when
// purging the scan, returning the totals to their prior values.
type ScanContribution struct {
	Scans              int64                          `json:"scans"`
	PagesCrawled       int64                          `json:"pagesCrawled"`
	ImagesFound        int64                          `json:"imagesFound"`
	OriginalSizeBytes  int64                          `json:"originalSizeBytes"`
	EstimatedWebPBytes int64                          `json:"estimatedWebpBytes"`
	SumSavingsPercent  float64                        `json:"sumSavingsPercent"`
	ByMimeType         map[string]ContributionBucket  `json:"byMimeType"`
	ByCategory         map[string]ContributionBucket  `json:"byCategory"`
}

// ContributionBucket is the per-MIME or per-category slice of a contribution
type ContributionBucket struct {
	Count              int64 `json:"count"`
	OriginalSizeBytes  int64 `json:"originalSizeBytes"`
	EstimatedWebPBytes int64 `json:"estimatedWebpBytes"`
}

// ContributionFromImages computes a completed scan's contribution from its
// job counters and discovered images.
func ContributionFromImages(job *ScanJob, images []*DiscoveredImage) ScanContribution {
	c := ScanContribution{
		Scans:        1,
		PagesCrawled: int64(job.PagesScanned),
		ByMimeType:   make(map[string]ContributionBucket),
		ByCategory:   make(map[string]ContributionBucket),
	}

	for _, img := range images {
		estimated := img.SizeBytes - img.PotentialSavingsBytes
		if estimated < 0 {
			estimated = 0
		}

		c.ImagesFound++
		c.OriginalSizeBytes += img.SizeBytes
		c.EstimatedWebPBytes += estimated
		c.SumSavingsPercent += img.PotentialSavingsPercent

		mt := c.ByMimeType[img.MimeType]
		mt.Count++
		mt.OriginalSizeBytes += img.SizeBytes
		mt.EstimatedWebPBytes += estimated
		c.ByMimeType[img.MimeType] = mt

		cat := c.ByCategory[img.Category]
		cat.Count++
		cat.OriginalSizeBytes += img.SizeBytes
		cat.EstimatedWebPBytes += estimated
		c.ByCategory[img.Category] = cat
	}

	return c
}
