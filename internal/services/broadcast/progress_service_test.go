package broadcast

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/common"
	"github.com/ternarybob/webpscan/internal/interfaces"
	"github.com/ternarybob/webpscan/internal/models"
	"github.com/ternarybob/webpscan/internal/services/scheduler"
)

// fakeScanStorage serves scripted jobs for the scheduler and snapshots
type fakeScanStorage struct {
	jobs map[string]*models.ScanJob
}

func (f *fakeScanStorage) SaveScan(ctx context.Context, job *models.ScanJob) error { return nil }
func (f *fakeScanStorage) GetScan(ctx context.Context, scanID string) (*models.ScanJob, error) {
	if j, ok := f.jobs[scanID]; ok {
		copy := *j
		return &copy, nil
	}
	return nil, interfaces.ErrScanNotFound
}
func (f *fakeScanStorage) ClaimScan(ctx context.Context, scanID string, startedAt time.Time) (bool, error) {
	return false, nil
}
func (f *fakeScanStorage) GetScansByStatus(ctx context.Context, status models.ScanStatus) ([]*models.ScanJob, error) {
	var out []*models.ScanJob
	for _, j := range f.jobs {
		if j.Status == status {
			copy := *j
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
func (f *fakeScanStorage) CountScansByStatus(ctx context.Context, status models.ScanStatus) (int, error) {
	return 0, nil
}
func (f *fakeScanStorage) CountQueuedByIP(ctx context.Context, ip string) (int, error) { return 0, nil }
func (f *fakeScanStorage) LatestSubmissionAt(ctx context.Context, ip string) (time.Time, error) {
	return time.Time{}, nil
}
func (f *fakeScanStorage) NextSubmissionCount(ctx context.Context, ip string) (int, error) {
	return 1, nil
}
func (f *fakeScanStorage) GetScansOlderThan(ctx context.Context, cutoff time.Time) ([]*models.ScanJob, error) {
	return nil, nil
}
func (f *fakeScanStorage) DeleteScan(ctx context.Context, scanID string) error { return nil }

// fakeCheckpointStorage serves one scripted checkpoint
type fakeCheckpointStorage struct {
	checkpoint *models.CrawlCheckpoint
}

func (f *fakeCheckpointStorage) SaveCheckpoint(ctx context.Context, cp *models.CrawlCheckpoint) error {
	return nil
}
func (f *fakeCheckpointStorage) GetCheckpoint(ctx context.Context, scanID string) (*models.CrawlCheckpoint, error) {
	if f.checkpoint != nil && f.checkpoint.ScanID == scanID {
		return f.checkpoint, nil
	}
	return nil, interfaces.ErrCheckpointNotFound
}
func (f *fakeCheckpointStorage) DeleteCheckpoint(ctx context.Context, scanID string) error {
	return nil
}

func newProgressService(storage *fakeScanStorage, checkpoints *fakeCheckpointStorage) (*ProgressService, *Hub) {
	logger := arbor.NewLogger()
	hub := NewHub(logger)
	sched := scheduler.NewService(storage, logger)
	cfg := common.NewDefaultConfig()
	return NewProgressService(hub, sched, storage, checkpoints, cfg, logger), hub
}

func queuedJob(id string, createdAt time.Time) *models.ScanJob {
	return &models.ScanJob{
		ID:              id,
		URL:             "https://example.com",
		SubmitterIP:     "ip",
		SubmissionCount: 1,
		Status:          models.ScanStatusQueued,
		CreatedAt:       createdAt,
	}
}

func TestScanEnqueuedBroadcastsPosition(t *testing.T) {
	storage := &fakeScanStorage{jobs: map[string]*models.ScanJob{
		"scan-1": queuedJob("scan-1", time.Now()),
	}}
	svc, hub := newProgressService(storage, &fakeCheckpointStorage{})

	sub := &recordingSubscriber{id: "conn-1"}
	hub.Subscribe(models.ScanGroup("scan-1"), sub)

	svc.ScanEnqueued(context.Background(), "scan-1")

	events := sub.received()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventQueuePositionUpdate, events[0])
}

func TestGetCurrentProgressUnknownScan(t *testing.T) {
	svc, _ := newProgressService(&fakeScanStorage{jobs: map[string]*models.ScanJob{}}, &fakeCheckpointStorage{})

	snapshot, err := svc.GetCurrentProgress(context.Background(), "scan-missing")
	require.NoError(t, err)
	assert.Nil(t, snapshot)
}

func TestGetCurrentProgressPrefersCheckpoint(t *testing.T) {
	job := queuedJob("scan-1", time.Now())
	job.Status = models.ScanStatusProcessing
	job.PagesScanned = 2
	job.PagesDiscovered = 5

	storage := &fakeScanStorage{jobs: map[string]*models.ScanJob{"scan-1": job}}
	checkpoints := &fakeCheckpointStorage{checkpoint: &models.CrawlCheckpoint{
		ScanID:             "scan-1",
		PagesVisited:       10,
		PagesDiscovered:    30,
		NonWebPImagesFound: 7,
		CurrentURL:         "https://example.com/page-10",
	}}

	svc, _ := newProgressService(storage, checkpoints)

	snapshot, err := svc.GetCurrentProgress(context.Background(), "scan-1")
	require.NoError(t, err)
	require.NotNil(t, snapshot)

	// Checkpoint counters win over the (staler) job row
	assert.Equal(t, 10, snapshot.PagesScanned)
	assert.Equal(t, 30, snapshot.PagesDiscovered)
	assert.Equal(t, 7, snapshot.NonWebPImagesCount)
	assert.Equal(t, "https://example.com/page-10", snapshot.CurrentURL)
	assert.InDelta(t, 33.3, snapshot.ProgressPercent, 0.1)
}

func TestGetCurrentProgressQueuedIncludesPosition(t *testing.T) {
	storage := &fakeScanStorage{jobs: map[string]*models.ScanJob{
		"scan-1": queuedJob("scan-1", time.Now().Add(-time.Minute)),
		"scan-2": queuedJob("scan-2", time.Now()),
	}}
	svc, _ := newProgressService(storage, &fakeCheckpointStorage{})

	snapshot, err := svc.GetCurrentProgress(context.Background(), "scan-2")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, models.ScanStatusQueued, snapshot.Status)
	assert.Equal(t, 2, snapshot.QueuePosition)
}

func TestPageScannedEmitsProgress(t *testing.T) {
	job := queuedJob("scan-1", time.Now())
	job.Status = models.ScanStatusProcessing
	job.PagesScanned = 3
	job.PagesDiscovered = 10

	storage := &fakeScanStorage{jobs: map[string]*models.ScanJob{"scan-1": job}}
	svc, hub := newProgressService(storage, &fakeCheckpointStorage{})

	sub := &recordingSubscriber{id: "conn-1"}
	hub.Subscribe(models.ScanGroup("scan-1"), sub)

	svc.PageScanned(context.Background(), job, "https://example.com/page-3", 500*time.Millisecond)

	events := sub.received()
	require.NotEmpty(t, events)
	assert.Equal(t, models.EventPageProgress, events[0])
}

func TestWaitEstimatorSimulation(t *testing.T) {
	// Active scans with 3 and 8 pages remaining, one worker slot each,
	// one page per second. Position 1 starts when the 3-page scan ends.
	e := &waitEstimator{
		remaining:      []int{3, 8},
		defaultPages:   25,
		secondsPerPage: 1,
		workers:        2,
		known:          true,
	}

	assert.Equal(t, 3, e.waitForPosition(1))
	// Position 2 waits for the next completion: after 3 ticks the queue
	// holds {5, 25}; the 5-page scan finishes 5 later.
	assert.Equal(t, 8, e.waitForPosition(2))
}

func TestWaitEstimatorFreeSlots(t *testing.T) {
	e := &waitEstimator{
		remaining:      []int{4},
		defaultPages:   25,
		secondsPerPage: 2,
		workers:        2,
		known:          true,
	}

	// One worker is idle; the first queued scan starts immediately
	assert.Equal(t, 0, e.waitForPosition(1))
	assert.Equal(t, 8, e.waitForPosition(2))
}

func TestWaitEstimatorUnknown(t *testing.T) {
	e := &waitEstimator{known: false}
	assert.Equal(t, WaitUnknown, e.waitForPosition(1))
}
