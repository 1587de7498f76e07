// -----------------------------------------------------------------------
// Package stats maintains the service-wide aggregate savings counters
// -----------------------------------------------------------------------

package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/interfaces"
	"github.com/ternarybob/webpscan/internal/models"
)

const maxRetries = 3

// retryBackoff spaces optimistic-concurrency retries: 10ms, 40ms, 160ms
var retryBackoff = []time.Duration{
	10 * time.Millisecond,
	40 * time.Millisecond,
	160 * time.Millisecond,
}

// Service applies and reverses scan contributions against the aggregate
// rows using the storage layer's version tokens. Conflicting writers
// re-read and retry with backoff.
type Service struct {
	storage interfaces.StatsStorage
	logger  arbor.ILogger
	sleep   func(time.Duration)
}

// NewService creates a stats service
func NewService(storage interfaces.StatsStorage, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		logger:  logger,
		sleep:   time.Sleep,
	}
}

// ApplyScanContribution adds a completed scan's counters to the
// aggregate rows.
func (s *Service) ApplyScanContribution(ctx context.Context, c models.ScanContribution) error {
	return s.applyDelta(ctx, c, 1)
}

// SubtractScanContribution reverses a contribution when retention purges
// the scan. Totals clamp at zero so a double subtraction cannot go
// negative.
func (s *Service) SubtractScanContribution(ctx context.Context, c models.ScanContribution) error {
	return s.applyDelta(ctx, c, -1)
}

func (s *Service) applyDelta(ctx context.Context, c models.ScanContribution, sign int64) error {
	if err := s.updateAggregate(ctx, c, sign); err != nil {
		return err
	}
	for mimeType, bucket := range c.ByMimeType {
		if err := s.updateImageType(ctx, mimeType, bucket, sign); err != nil {
			return err
		}
	}
	for category, bucket := range c.ByCategory {
		if err := s.updateCategory(ctx, category, bucket, sign); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) updateAggregate(ctx context.Context, c models.ScanContribution, sign int64) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		current, err := s.storage.GetAggregateStats(ctx)
		if err != nil {
			return err
		}

		updated := *current
		updated.TotalScans = clampNonNegative(current.TotalScans + sign*c.Scans)
		updated.TotalPagesCrawled = clampNonNegative(current.TotalPagesCrawled + sign*c.PagesCrawled)
		updated.TotalImagesFound = clampNonNegative(current.TotalImagesFound + sign*c.ImagesFound)
		updated.TotalOriginalSizeBytes = clampNonNegative(current.TotalOriginalSizeBytes + sign*c.OriginalSizeBytes)
		updated.TotalEstimatedWebPSizeBytes = clampNonNegative(current.TotalEstimatedWebPSizeBytes + sign*c.EstimatedWebPBytes)
		updated.SumSavingsPercent = clampNonNegativeFloat(current.SumSavingsPercent + float64(sign)*c.SumSavingsPercent)

		err = s.storage.CompareAndSaveAggregateStats(ctx, &updated, current.Version)
		if err == nil {
			return nil
		}
		if !s.retryable(ctx, err, attempt, "aggregate") {
			return fmt.Errorf("failed to update aggregate stats: %w", err)
		}
	}
	return fmt.Errorf("aggregate stats update exhausted %d retries", maxRetries)
}

func (s *Service) updateImageType(ctx context.Context, mimeType string, bucket models.ContributionBucket, sign int64) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		current, err := s.storage.GetImageTypeStat(ctx, mimeType)
		if err != nil {
			return err
		}

		updated := *current
		updated.Count = clampNonNegative(current.Count + sign*bucket.Count)
		updated.OriginalSizeBytes = clampNonNegative(current.OriginalSizeBytes + sign*bucket.OriginalSizeBytes)
		updated.EstimatedWebPSizeBytes = clampNonNegative(current.EstimatedWebPSizeBytes + sign*bucket.EstimatedWebPBytes)

		err = s.storage.CompareAndSaveImageTypeStat(ctx, &updated, current.Version)
		if err == nil {
			return nil
		}
		if !s.retryable(ctx, err, attempt, "image_type") {
			return fmt.Errorf("failed to update image type stats for %s: %w", mimeType, err)
		}
	}
	return fmt.Errorf("image type stats update exhausted %d retries", maxRetries)
}

func (s *Service) updateCategory(ctx context.Context, category string, bucket models.ContributionBucket, sign int64) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		current, err := s.storage.GetCategoryStat(ctx, category)
		if err != nil {
			return err
		}

		updated := *current
		updated.Count = clampNonNegative(current.Count + sign*bucket.Count)
		updated.OriginalSizeBytes = clampNonNegative(current.OriginalSizeBytes + sign*bucket.OriginalSizeBytes)
		updated.EstimatedWebPSizeBytes = clampNonNegative(current.EstimatedWebPSizeBytes + sign*bucket.EstimatedWebPBytes)

		err = s.storage.CompareAndSaveCategoryStat(ctx, &updated, current.Version)
		if err == nil {
			return nil
		}
		if !s.retryable(ctx, err, attempt, "category") {
			return fmt.Errorf("failed to update category stats for %s: %w", category, err)
		}
	}
	return fmt.Errorf("category stats update exhausted %d retries", maxRetries)
}

// retryable decides whether a compare-and-save failure warrants another
// attempt and sleeps the backoff when it does.
func (s *Service) retryable(ctx context.Context, err error, attempt int, row string) bool {
	if !interfaces.IsVersionConflict(err) || attempt >= maxRetries {
		return false
	}
	s.logger.Debug().
		Str("row", row).
		Int("attempt", attempt+1).
		Msg("Stats version conflict, retrying")
	s.sleep(retryBackoff[attempt])
	return ctx.Err() == nil
}

// Snapshot assembles the broadcast/API view of the aggregate counters
func (s *Service) Snapshot(ctx context.Context) (*models.StatsUpdate, error) {
	agg, err := s.storage.GetAggregateStats(ctx)
	if err != nil {
		return nil, err
	}
	byType, err := s.storage.GetImageTypeStats(ctx)
	if err != nil {
		return nil, err
	}
	byCategory, err := s.storage.GetCategoryStats(ctx)
	if err != nil {
		return nil, err
	}

	update := &models.StatsUpdate{
		TotalScans:                  agg.TotalScans,
		TotalPagesCrawled:           agg.TotalPagesCrawled,
		TotalImagesFound:            agg.TotalImagesFound,
		TotalOriginalSizeBytes:      agg.TotalOriginalSizeBytes,
		TotalEstimatedWebPSizeBytes: agg.TotalEstimatedWebPSizeBytes,
		AverageSavingsPercent:       agg.AverageSavingsPercent(),
		ByMimeType:                  make([]models.StatsTypeBreakdown, 0, len(byType)),
		ByCategory:                  make([]models.StatsTypeBreakdown, 0, len(byCategory)),
		Timestamp:                   time.Now(),
	}
	for _, t := range byType {
		if t.Count == 0 {
			continue
		}
		update.ByMimeType = append(update.ByMimeType, models.StatsTypeBreakdown{
			Key:                    t.MimeType,
			Count:                  t.Count,
			OriginalSizeBytes:      t.OriginalSizeBytes,
			EstimatedWebPSizeBytes: t.EstimatedWebPSizeBytes,
		})
	}
	for _, c := range byCategory {
		if c.Count == 0 {
			continue
		}
		update.ByCategory = append(update.ByCategory, models.StatsTypeBreakdown{
			Key:                    c.Category,
			Count:                  c.Count,
			OriginalSizeBytes:      c.OriginalSizeBytes,
			EstimatedWebPSizeBytes: c.EstimatedWebPSizeBytes,
		})
	}
	return update, nil
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func clampNonNegativeFloat(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
