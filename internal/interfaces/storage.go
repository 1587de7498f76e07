package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/webpscan/internal/models"
)

// ScanStorage is the repository contract for scan jobs
type ScanStorage interface {
	SaveScan(ctx context.Context, job *models.ScanJob) error
	GetScan(ctx context.Context, scanID string) (*models.ScanJob, error)
	// ClaimScan atomically transitions a queued job to processing and
	// stamps StartedAt. Returns false when the job was not queued (lost
	// race or already claimed).
	ClaimScan(ctx context.Context, scanID string, startedAt time.Time) (bool, error)
	GetScansByStatus(ctx context.Context, status models.ScanStatus) ([]*models.ScanJob, error)
	CountScansByStatus(ctx context.Context, status models.ScanStatus) (int, error)
	CountQueuedByIP(ctx context.Context, ip string) (int, error)
	// LatestSubmissionAt returns the most recent CreatedAt for the IP, or
	// the zero time when the IP has never submitted.
	LatestSubmissionAt(ctx context.Context, ip string) (time.Time, error)
	// NextSubmissionCount returns the 1-based fair-share bucket index for
	// the IP's next queued job.
	NextSubmissionCount(ctx context.Context, ip string) (int, error)
	GetScansOlderThan(ctx context.Context, cutoff time.Time) ([]*models.ScanJob, error)
	DeleteScan(ctx context.Context, scanID string) error
}

// ImageStorage is the repository contract for discovered images
type ImageStorage interface {
	// UpsertImage inserts the image on first sighting or merges PageURLs
	// on a duplicate (scanID, imageURL). Returns true when newly inserted.
	UpsertImage(ctx context.Context, image *models.DiscoveredImage) (bool, error)
	GetImage(ctx context.Context, scanID, imageURL string) (*models.DiscoveredImage, error)
	GetImagesByScan(ctx context.Context, scanID string) ([]*models.DiscoveredImage, error)
	CountImagesByScan(ctx context.Context, scanID string) (int, error)
	DeleteImagesByScan(ctx context.Context, scanID string) error
}

// CheckpointStorage is the repository contract for crawl checkpoints.
// Writes are last-writer-wins scoped to the unique scan ID.
type CheckpointStorage interface {
	SaveCheckpoint(ctx context.Context, checkpoint *models.CrawlCheckpoint) error
	GetCheckpoint(ctx context.Context, scanID string) (*models.CrawlCheckpoint, error)
	DeleteCheckpoint(ctx context.Context, scanID string) error
}

// ZipStorage is the repository contract for converted-image zip artifacts
type ZipStorage interface {
	SaveZip(ctx context.Context, zip *models.ConvertedImageZip) error
	GetZip(ctx context.Context, downloadID string) (*models.ConvertedImageZip, error)
	GetZipByScan(ctx context.Context, scanID string) (*models.ConvertedImageZip, error)
	GetExpiredZips(ctx context.Context, now time.Time) ([]*models.ConvertedImageZip, error)
	DeleteZip(ctx context.Context, downloadID string) error
	DeleteZipsByScan(ctx context.Context, scanID string) error
}

// StatsStorage is the repository contract for the aggregate counters.
// Writers use the Version token for optimistic concurrency.
type StatsStorage interface {
	GetAggregateStats(ctx context.Context) (*models.AggregateStats, error)
	// CompareAndSaveAggregateStats persists the row only when the stored
	// Version still equals expectedVersion; ErrVersionConflict otherwise.
	CompareAndSaveAggregateStats(ctx context.Context, stats *models.AggregateStats, expectedVersion uint64) error
	GetImageTypeStats(ctx context.Context) ([]*models.AggregateImageTypeStat, error)
	GetImageTypeStat(ctx context.Context, mimeType string) (*models.AggregateImageTypeStat, error)
	CompareAndSaveImageTypeStat(ctx context.Context, stat *models.AggregateImageTypeStat, expectedVersion uint64) error
	GetCategoryStats(ctx context.Context) ([]*models.AggregateCategoryStat, error)
	GetCategoryStat(ctx context.Context, category string) (*models.AggregateCategoryStat, error)
	CompareAndSaveCategoryStat(ctx context.Context, stat *models.AggregateCategoryStat, expectedVersion uint64) error
}

// StorageManager bundles the repositories over one database handle
type StorageManager interface {
	ScanStorage() ScanStorage
	ImageStorage() ImageStorage
	CheckpointStorage() CheckpointStorage
	ZipStorage() ZipStorage
	StatsStorage() StatsStorage
	Close() error
}
