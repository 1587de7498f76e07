// -----------------------------------------------------------------------
// Package scheduler orders queued scans by fair-share priority with aging
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/interfaces"
	"github.com/ternarybob/webpscan/internal/models"
)

const (
	// bucketWeight separates fair-share buckets: a submitter's nth job
	// starts n buckets deep and must age one full bucket to overtake an
	// opposing (n-1)th job.
	bucketWeight = 1000.0
	// agingRate is priority points recovered per second of queue wait
	agingRate = 1.0
)

// Service computes effective priority for queued scans. Scores are
// recomputed on every read from the persisted SubmissionCount and
// CreatedAt, so ordering is stable across restarts.
type Service struct {
	scanStorage interfaces.ScanStorage
	logger      arbor.ILogger
	now         func() time.Time
}

// NewService creates a scheduler service
func NewService(scanStorage interfaces.ScanStorage, logger arbor.ILogger) *Service {
	return &Service{
		scanStorage: scanStorage,
		logger:      logger,
		now:         time.Now,
	}
}

// BaseScore returns the enqueue-time score persisted on the job row
func BaseScore(submissionCount int) float64 {
	return float64(submissionCount) * bucketWeight
}

// EffectiveScore returns the aged score; lower runs sooner
func EffectiveScore(job *models.ScanJob, now time.Time) float64 {
	age := now.Sub(job.CreatedAt).Seconds()
	if age < 0 {
		age = 0
	}
	return float64(job.SubmissionCount)*bucketWeight - age*agingRate
}

// QueuedJobs returns all queued scans in execution order
func (s *Service) QueuedJobs(ctx context.Context) ([]*models.ScanJob, error) {
	jobs, err := s.scanStorage.GetScansByStatus(ctx, models.ScanStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("failed to load queued scans: %w", err)
	}

	now := s.now()
	sort.SliceStable(jobs, func(i, j int) bool {
		si, sj := EffectiveScore(jobs[i], now), EffectiveScore(jobs[j], now)
		if si != sj {
			return si < sj
		}
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs, nil
}

// NextJob returns the queued scan that should run next, or nil when the
// queue is empty.
func (s *Service) NextJob(ctx context.Context) (*models.ScanJob, error) {
	jobs, err := s.QueuedJobs(ctx)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

// QueuePosition returns the 1-based rank of a queued scan, or 0 when the
// scan is not queued.
func (s *Service) QueuePosition(ctx context.Context, scanID string) (int, error) {
	jobs, err := s.QueuedJobs(ctx)
	if err != nil {
		return 0, err
	}
	for i, job := range jobs {
		if job.ID == scanID {
			return i + 1, nil
		}
	}
	return 0, nil
}
