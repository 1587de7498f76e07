// -----------------------------------------------------------------------
// Package retention purges aged scans and expired zip artifacts on a
// cron schedule and pushes periodic aggregate stats updates
// -----------------------------------------------------------------------

package retention

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/common"
	"github.com/ternarybob/webpscan/internal/interfaces"
	"github.com/ternarybob/webpscan/internal/models"
)

// StatsAdjuster reverses a purged scan's aggregate contribution
type StatsAdjuster interface {
	SubtractScanContribution(ctx context.Context, c models.ScanContribution) error
	Snapshot(ctx context.Context) (*models.StatsUpdate, error)
}

// StatsPublisher pushes a stats snapshot to live subscribers
type StatsPublisher interface {
	BroadcastStats(update *models.StatsUpdate)
}

// Service owns the background maintenance schedule: scan purges, zip
// expiry sweeps, and the periodic stats broadcast.
type Service struct {
	config      *common.Config
	scans       interfaces.ScanStorage
	images      interfaces.ImageStorage
	checkpoints interfaces.CheckpointStorage
	zips        interfaces.ZipStorage
	stats       StatsAdjuster
	publisher   StatsPublisher
	logger      arbor.ILogger

	cron    *cron.Cron
	mu      sync.Mutex
	purging bool
	now     func() time.Time
}

// NewService creates the retention service. publisher may be nil when no
// live subscribers exist (tests, CLI tools).
func NewService(config *common.Config, scans interfaces.ScanStorage, images interfaces.ImageStorage, checkpoints interfaces.CheckpointStorage, zips interfaces.ZipStorage, stats StatsAdjuster, publisher StatsPublisher, logger arbor.ILogger) *Service {
	return &Service{
		config:      config,
		scans:       scans,
		images:      images,
		checkpoints: checkpoints,
		zips:        zips,
		stats:       stats,
		publisher:   publisher,
		logger:      logger,
		cron:        cron.New(),
		now:         time.Now,
	}
}

// Start registers the cron entries and begins the schedule
func (s *Service) Start() error {
	purgeExpr := fmt.Sprintf("@every %dm", s.config.Retention.IntervalMinutes)
	if _, err := s.cron.AddFunc(purgeExpr, s.runPurge); err != nil {
		return fmt.Errorf("failed to schedule retention purge: %w", err)
	}

	if s.publisher != nil && s.config.Retention.StatsBroadcastSeconds > 0 {
		statsExpr := fmt.Sprintf("@every %ds", s.config.Retention.StatsBroadcastSeconds)
		if _, err := s.cron.AddFunc(statsExpr, s.broadcastStats); err != nil {
			return fmt.Errorf("failed to schedule stats broadcast: %w", err)
		}
	}

	s.cron.Start()
	s.logger.Info().
		Int("interval_minutes", s.config.Retention.IntervalMinutes).
		Int("scan_ttl_days", s.config.Retention.ScanTTLDays).
		Msg("Retention schedule started")
	return nil
}

// Stop halts the schedule and waits for a running purge to finish
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Retention schedule stopped")
}

// runPurge is the cron entry point; overlapping runs are skipped
func (s *Service) runPurge() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Msgf("Retention purge panicked: %v", r)
		}
	}()

	s.mu.Lock()
	if s.purging {
		s.mu.Unlock()
		s.logger.Debug().Msg("Retention purge already running, skipping cycle")
		return
	}
	s.purging = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.purging = false
		s.mu.Unlock()
	}()

	ctx := context.Background()
	if err := s.PurgeOnce(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Retention purge failed")
	}
}

// PurgeOnce runs one full retention pass: aged scans first, then zip
// artifacts past their own shorter expiry.
func (s *Service) PurgeOnce(ctx context.Context) error {
	now := s.now()

	if err := s.purgeAgedScans(ctx, now); err != nil {
		return err
	}
	return s.purgeExpiredZips(ctx, now)
}

// purgeAgedScans removes scans older than the TTL along with their
// images, checkpoint, and zip artifacts. Completed scans give back their
// aggregate stats contribution so the lifetime totals track live data.
func (s *Service) purgeAgedScans(ctx context.Context, now time.Time) error {
	cutoff := now.AddDate(0, 0, -s.config.Retention.ScanTTLDays)
	jobs, err := s.scans.GetScansOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list aged scans: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	purged := 0
	for _, job := range jobs {
		if err := s.purgeScan(ctx, job); err != nil {
			s.logger.Error().Str("scan_id", job.ID).Err(err).Msg("Failed to purge scan")
			continue
		}
		purged++
	}

	s.logger.Info().
		Int("purged", purged).
		Int("candidates", len(jobs)).
		Msg("Aged scans purged")
	return nil
}

func (s *Service) purgeScan(ctx context.Context, job *models.ScanJob) error {
	images, err := s.images.GetImagesByScan(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to load images: %w", err)
	}

	// Subtract before deleting so a partial failure never double-counts
	if job.Status == models.ScanStatusCompleted && s.stats != nil {
		contribution := models.ContributionFromImages(job, images)
		if err := s.stats.SubtractScanContribution(ctx, contribution); err != nil {
			s.logger.Warn().Str("scan_id", job.ID).Err(err).Msg("Failed to subtract stats contribution")
		}
	}

	if zip, err := s.zips.GetZipByScan(ctx, job.ID); err == nil {
		s.removeZipFile(zip)
	} else if !errors.Is(err, interfaces.ErrZipNotFound) {
		s.logger.Warn().Str("scan_id", job.ID).Err(err).Msg("Failed to look up zip for purge")
	}
	if err := s.zips.DeleteZipsByScan(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to delete zip rows: %w", err)
	}

	if err := s.images.DeleteImagesByScan(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to delete images: %w", err)
	}
	if err := s.checkpoints.DeleteCheckpoint(ctx, job.ID); err != nil && !interfaces.IsNotFound(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	if err := s.scans.DeleteScan(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to delete scan: %w", err)
	}
	return nil
}

// purgeExpiredZips removes zip artifacts past the six-hour window even
// when their parent scan is still retained.
func (s *Service) purgeExpiredZips(ctx context.Context, now time.Time) error {
	expired, err := s.zips.GetExpiredZips(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list expired zips: %w", err)
	}

	for _, zip := range expired {
		s.removeZipFile(zip)
		if err := s.zips.DeleteZip(ctx, zip.DownloadID); err != nil {
			s.logger.Error().Str("download_id", zip.DownloadID).Err(err).Msg("Failed to delete expired zip row")
			continue
		}
		s.logger.Debug().
			Str("download_id", zip.DownloadID).
			Str("scan_id", zip.ScanID).
			Msg("Expired zip removed")
	}
	return nil
}

// removeZipFile deletes the artifact file; a missing file is fine since
// the row is the source of truth.
func (s *Service) removeZipFile(zip *models.ConvertedImageZip) {
	if zip.FilePath == "" {
		return
	}
	if err := os.Remove(zip.FilePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn().
			Str("download_id", zip.DownloadID).
			Str("path", zip.FilePath).
			Err(err).
			Msg("Failed to remove zip file")
	}
}

// broadcastStats pushes the current aggregate snapshot to subscribers
func (s *Service) broadcastStats() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Msgf("Stats broadcast panicked: %v", r)
		}
	}()

	snapshot, err := s.stats.Snapshot(context.Background())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build stats snapshot")
		return
	}
	s.publisher.BroadcastStats(snapshot)
}
