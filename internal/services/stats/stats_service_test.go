package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/interfaces"
	"github.com/ternarybob/webpscan/internal/models"
)

// memStatsStorage is an in-memory StatsStorage with real version checks.
// failConflicts forces the next n compare-and-saves to report a conflict
// regardless of the token, to exercise the retry path.
type memStatsStorage struct {
	mu            sync.Mutex
	aggregate     *models.AggregateStats
	byType        map[string]*models.AggregateImageTypeStat
	byCategory    map[string]*models.AggregateCategoryStat
	failConflicts int
}

func newMemStatsStorage() *memStatsStorage {
	return &memStatsStorage{
		byType:     make(map[string]*models.AggregateImageTypeStat),
		byCategory: make(map[string]*models.AggregateCategoryStat),
	}
}

func (m *memStatsStorage) GetAggregateStats(ctx context.Context) (*models.AggregateStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.aggregate == nil {
		return &models.AggregateStats{ID: models.AggregateStatsKey}, nil
	}
	copy := *m.aggregate
	return &copy, nil
}

func (m *memStatsStorage) CompareAndSaveAggregateStats(ctx context.Context, stats *models.AggregateStats, expectedVersion uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failConflicts > 0 {
		m.failConflicts--
		return interfaces.ErrVersionConflict
	}
	var current uint64
	if m.aggregate != nil {
		current = m.aggregate.Version
	}
	if current != expectedVersion {
		return interfaces.ErrVersionConflict
	}
	saved := *stats
	saved.Version = expectedVersion + 1
	m.aggregate = &saved
	return nil
}

func (m *memStatsStorage) GetImageTypeStats(ctx context.Context) ([]*models.AggregateImageTypeStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AggregateImageTypeStat
	for _, s := range m.byType {
		copy := *s
		out = append(out, &copy)
	}
	return out, nil
}

func (m *memStatsStorage) GetImageTypeStat(ctx context.Context, mimeType string) (*models.AggregateImageTypeStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byType[mimeType]; ok {
		copy := *s
		return &copy, nil
	}
	return &models.AggregateImageTypeStat{MimeType: mimeType}, nil
}

func (m *memStatsStorage) CompareAndSaveImageTypeStat(ctx context.Context, stat *models.AggregateImageTypeStat, expectedVersion uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var current uint64
	if s, ok := m.byType[stat.MimeType]; ok {
		current = s.Version
	}
	if current != expectedVersion {
		return interfaces.ErrVersionConflict
	}
	saved := *stat
	saved.Version = expectedVersion + 1
	m.byType[stat.MimeType] = &saved
	return nil
}

func (m *memStatsStorage) GetCategoryStats(ctx context.Context) ([]*models.AggregateCategoryStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AggregateCategoryStat
	for _, s := range m.byCategory {
		copy := *s
		out = append(out, &copy)
	}
	return out, nil
}

func (m *memStatsStorage) GetCategoryStat(ctx context.Context, category string) (*models.AggregateCategoryStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byCategory[category]; ok {
		copy := *s
		return &copy, nil
	}
	return &models.AggregateCategoryStat{Category: category}, nil
}

func (m *memStatsStorage) CompareAndSaveCategoryStat(ctx context.Context, stat *models.AggregateCategoryStat, expectedVersion uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var current uint64
	if s, ok := m.byCategory[stat.Category]; ok {
		current = s.Version
	}
	if current != expectedVersion {
		return interfaces.ErrVersionConflict
	}
	saved := *stat
	saved.Version = expectedVersion + 1
	m.byCategory[stat.Category] = &saved
	return nil
}

func testContribution() models.ScanContribution {
	return models.ScanContribution{
		Scans:              1,
		PagesCrawled:       20,
		ImagesFound:        3,
		OriginalSizeBytes:  300_000,
		EstimatedWebPBytes: 210_000,
		SumSavingsPercent:  90,
		ByMimeType: map[string]models.ContributionBucket{
			"image/png":  {Count: 2, OriginalSizeBytes: 200_000, EstimatedWebPBytes: 132_000},
			"image/jpeg": {Count: 1, OriginalSizeBytes: 100_000, EstimatedWebPBytes: 75_000},
		},
		ByCategory: map[string]models.ContributionBucket{
			"Hero & Banners": {Count: 1, OriginalSizeBytes: 150_000, EstimatedWebPBytes: 99_000},
			"Other":          {Count: 2, OriginalSizeBytes: 150_000, EstimatedWebPBytes: 111_000},
		},
	}
}

func TestApplyThenSubtractRestoresTotals(t *testing.T) {
	storage := newMemStatsStorage()
	svc := NewService(storage, arbor.NewLogger())
	svc.sleep = func(d time.Duration) {}
	ctx := context.Background()

	c := testContribution()
	require.NoError(t, svc.ApplyScanContribution(ctx, c))

	agg, err := storage.GetAggregateStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), agg.TotalScans)
	assert.Equal(t, int64(20), agg.TotalPagesCrawled)
	assert.Equal(t, int64(3), agg.TotalImagesFound)
	assert.Equal(t, int64(300_000), agg.TotalOriginalSizeBytes)

	require.NoError(t, svc.SubtractScanContribution(ctx, c))

	agg, err = storage.GetAggregateStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), agg.TotalScans)
	assert.Equal(t, int64(0), agg.TotalPagesCrawled)
	assert.Equal(t, int64(0), agg.TotalImagesFound)
	assert.Equal(t, int64(0), agg.TotalOriginalSizeBytes)
	assert.Equal(t, 0.0, agg.SumSavingsPercent)

	pngStat, err := storage.GetImageTypeStat(ctx, "image/png")
	require.NoError(t, err)
	assert.Equal(t, int64(0), pngStat.Count)
}

func TestSubtractClampsAtZero(t *testing.T) {
	storage := newMemStatsStorage()
	svc := NewService(storage, arbor.NewLogger())
	svc.sleep = func(d time.Duration) {}
	ctx := context.Background()

	// Subtracting from zero must not go negative
	require.NoError(t, svc.SubtractScanContribution(ctx, testContribution()))

	agg, err := storage.GetAggregateStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), agg.TotalScans)
	assert.Equal(t, int64(0), agg.TotalOriginalSizeBytes)
	assert.GreaterOrEqual(t, agg.SumSavingsPercent, 0.0)
}

func TestApplyRetriesOnVersionConflict(t *testing.T) {
	storage := newMemStatsStorage()
	storage.failConflicts = 2
	svc := NewService(storage, arbor.NewLogger())
	svc.sleep = func(d time.Duration) {}
	ctx := context.Background()

	require.NoError(t, svc.ApplyScanContribution(ctx, testContribution()))

	agg, err := storage.GetAggregateStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), agg.TotalScans)
}

func TestApplyGivesUpAfterMaxRetries(t *testing.T) {
	storage := newMemStatsStorage()
	storage.failConflicts = maxRetries + 1
	svc := NewService(storage, arbor.NewLogger())
	svc.sleep = func(d time.Duration) {}

	err := svc.ApplyScanContribution(context.Background(), testContribution())
	assert.Error(t, err)
}

func TestSnapshotSkipsEmptyRows(t *testing.T) {
	storage := newMemStatsStorage()
	svc := NewService(storage, arbor.NewLogger())
	svc.sleep = func(d time.Duration) {}
	ctx := context.Background()

	c := testContribution()
	require.NoError(t, svc.ApplyScanContribution(ctx, c))
	require.NoError(t, svc.SubtractScanContribution(ctx, c))
	require.NoError(t, svc.ApplyScanContribution(ctx, models.ScanContribution{
		Scans:       1,
		ImagesFound: 1,
		ByMimeType: map[string]models.ContributionBucket{
			"image/gif": {Count: 1, OriginalSizeBytes: 10_000, EstimatedWebPBytes: 5_500},
		},
		ByCategory: map[string]models.ContributionBucket{
			"Other": {Count: 1, OriginalSizeBytes: 10_000, EstimatedWebPBytes: 5_500},
		},
	}))

	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.TotalScans)
	// Rows zeroed by the subtraction are filtered out of the snapshot
	require.Len(t, snap.ByMimeType, 1)
	assert.Equal(t, "image/gif", snap.ByMimeType[0].Key)
}
