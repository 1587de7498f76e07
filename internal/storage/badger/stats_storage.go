package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/interfaces"
	"github.com/ternarybob/webpscan/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// StatsStorage implements the StatsStorage interface for Badger. The
// compare-and-save methods implement the optimistic-concurrency token:
// a write only lands when the stored Version still matches, otherwise
// ErrVersionConflict tells the caller to re-read and retry.
type StatsStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	// casMu makes each compare-and-save check atomic within the process
	casMu sync.Mutex
}

// NewStatsStorage creates a new StatsStorage instance
func NewStatsStorage(db *BadgerDB, logger arbor.ILogger) interfaces.StatsStorage {
	return &StatsStorage{
		db:     db,
		logger: logger,
	}
}

func (s *StatsStorage) GetAggregateStats(ctx context.Context) (*models.AggregateStats, error) {
	var stats models.AggregateStats
	if err := s.db.Store().Get(models.AggregateStatsKey, &stats); err != nil {
		if err == badgerhold.ErrNotFound {
			// First read bootstraps the singleton row
			return &models.AggregateStats{
				ID:          models.AggregateStatsKey,
				LastUpdated: time.Now(),
				Version:     0,
			}, nil
		}
		return nil, fmt.Errorf("failed to get aggregate stats: %w", err)
	}
	return &stats, nil
}

func (s *StatsStorage) CompareAndSaveAggregateStats(ctx context.Context, stats *models.AggregateStats, expectedVersion uint64) error {
	s.casMu.Lock()
	defer s.casMu.Unlock()

	var current models.AggregateStats
	err := s.db.Store().Get(models.AggregateStatsKey, &current)
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to read aggregate stats for compare: %w", err)
	}
	if err == nil && current.Version != expectedVersion {
		return ErrVersionConflict
	}
	if err == badgerhold.ErrNotFound && expectedVersion != 0 {
		return ErrVersionConflict
	}

	stats.ID = models.AggregateStatsKey
	stats.Version = expectedVersion + 1
	stats.LastUpdated = time.Now()

	if err := s.db.Store().Upsert(models.AggregateStatsKey, stats); err != nil {
		return fmt.Errorf("failed to save aggregate stats: %w", err)
	}
	return nil
}

func (s *StatsStorage) GetImageTypeStats(ctx context.Context) ([]*models.AggregateImageTypeStat, error) {
	var stats []models.AggregateImageTypeStat
	if err := s.db.Store().Find(&stats, badgerhold.Where("MimeType").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to list image type stats: %w", err)
	}

	result := make([]*models.AggregateImageTypeStat, len(stats))
	for i := range stats {
		result[i] = &stats[i]
	}
	return result, nil
}

func (s *StatsStorage) GetImageTypeStat(ctx context.Context, mimeType string) (*models.AggregateImageTypeStat, error) {
	var stat models.AggregateImageTypeStat
	if err := s.db.Store().Get(mimeType, &stat); err != nil {
		if err == badgerhold.ErrNotFound {
			return &models.AggregateImageTypeStat{MimeType: mimeType, Version: 0}, nil
		}
		return nil, fmt.Errorf("failed to get image type stat: %w", err)
	}
	return &stat, nil
}

func (s *StatsStorage) CompareAndSaveImageTypeStat(ctx context.Context, stat *models.AggregateImageTypeStat, expectedVersion uint64) error {
	s.casMu.Lock()
	defer s.casMu.Unlock()

	var current models.AggregateImageTypeStat
	err := s.db.Store().Get(stat.MimeType, &current)
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to read image type stat for compare: %w", err)
	}
	if err == nil && current.Version != expectedVersion {
		return ErrVersionConflict
	}
	if err == badgerhold.ErrNotFound && expectedVersion != 0 {
		return ErrVersionConflict
	}

	stat.Version = expectedVersion + 1
	stat.LastUpdated = time.Now()

	if err := s.db.Store().Upsert(stat.MimeType, stat); err != nil {
		return fmt.Errorf("failed to save image type stat: %w", err)
	}
	return nil
}

func (s *StatsStorage) GetCategoryStats(ctx context.Context) ([]*models.AggregateCategoryStat, error) {
	var stats []models.AggregateCategoryStat
	if err := s.db.Store().Find(&stats, badgerhold.Where("Category").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to list category stats: %w", err)
	}

	result := make([]*models.AggregateCategoryStat, len(stats))
	for i := range stats {
		result[i] = &stats[i]
	}
	return result, nil
}

func (s *StatsStorage) GetCategoryStat(ctx context.Context, category string) (*models.AggregateCategoryStat, error) {
	var stat models.AggregateCategoryStat
	if err := s.db.Store().Get(category, &stat); err != nil {
		if err == badgerhold.ErrNotFound {
			return &models.AggregateCategoryStat{Category: category, Version: 0}, nil
		}
		return nil, fmt.Errorf("failed to get category stat: %w", err)
	}
	return &stat, nil
}

func (s *StatsStorage) CompareAndSaveCategoryStat(ctx context.Context, stat *models.AggregateCategoryStat, expectedVersion uint64) error {
	s.casMu.Lock()
	defer s.casMu.Unlock()

	var current models.AggregateCategoryStat
	err := s.db.Store().Get(stat.Category, &current)
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to read category stat for compare: %w", err)
	}
	if err == nil && current.Version != expectedVersion {
		return ErrVersionConflict
	}
	if err == badgerhold.ErrNotFound && expectedVersion != 0 {
		return ErrVersionConflict
	}

	stat.Version = expectedVersion + 1
	stat.LastUpdated = time.Now()

	if err := s.db.Store().Upsert(stat.Category, stat); err != nil {
		return fmt.Errorf("failed to save category stat: %w", err)
	}
	return nil
}
