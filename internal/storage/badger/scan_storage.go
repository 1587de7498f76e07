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

// ScanStorage implements the ScanStorage interface for Badger
type ScanStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	// claimMu serializes claim transitions. BadgerHold has no server-side
	// CAS, and the queue is single-process authoritative, so a process
	// mutex is sufficient to make claims atomic.
	claimMu sync.Mutex
}

// NewScanStorage creates a new ScanStorage instance
func NewScanStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ScanStorage {
	return &ScanStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ScanStorage) SaveScan(ctx context.Context, job *models.ScanJob) error {
	if job.ID == "" {
		return fmt.Errorf("scan ID is required")
	}

	var existing models.ScanJob
	err := s.db.Store().Get(job.ID, &existing)
	if err == nil && existing.Status.IsTerminal() && existing.Status != job.Status {
		return ErrTerminalScan
	}
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to read scan before save: %w", err)
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save scan: %w", err)
	}
	return nil
}

func (s *ScanStorage) GetScan(ctx context.Context, scanID string) (*models.ScanJob, error) {
	var job models.ScanJob
	if err := s.db.Store().Get(scanID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, ErrScanNotFound
		}
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}
	return &job, nil
}

func (s *ScanStorage) ClaimScan(ctx context.Context, scanID string, startedAt time.Time) (bool, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	var job models.ScanJob
	if err := s.db.Store().Get(scanID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return false, ErrScanNotFound
		}
		return false, fmt.Errorf("failed to get scan for claim: %w", err)
	}

	if job.Status != models.ScanStatusQueued {
		return false, nil
	}

	job.Status = models.ScanStatusProcessing
	// Preserve a StartedAt from a previous attempt so restarts keep the
	// original start time.
	if job.StartedAt == nil {
		job.StartedAt = &startedAt
	}

	if err := s.db.Store().Upsert(job.ID, &job); err != nil {
		return false, fmt.Errorf("failed to claim scan: %w", err)
	}
	return true, nil
}

func (s *ScanStorage) GetScansByStatus(ctx context.Context, status models.ScanStatus) ([]*models.ScanJob, error) {
	var jobs []models.ScanJob
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(status)); err != nil {
		return nil, fmt.Errorf("failed to get scans by status: %w", err)
	}

	result := make([]*models.ScanJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *ScanStorage) CountScansByStatus(ctx context.Context, status models.ScanStatus) (int, error) {
	count, err := s.db.Store().Count(&models.ScanJob{}, badgerhold.Where("Status").Eq(status))
	if err != nil {
		return 0, fmt.Errorf("failed to count scans: %w", err)
	}
	return int(count), nil
}

func (s *ScanStorage) CountQueuedByIP(ctx context.Context, ip string) (int, error) {
	count, err := s.db.Store().Count(&models.ScanJob{},
		badgerhold.Where("SubmitterIP").Eq(ip).And("Status").Eq(models.ScanStatusQueued))
	if err != nil {
		return 0, fmt.Errorf("failed to count queued scans for ip: %w", err)
	}
	return int(count), nil
}

func (s *ScanStorage) LatestSubmissionAt(ctx context.Context, ip string) (time.Time, error) {
	var jobs []models.ScanJob
	err := s.db.Store().Find(&jobs,
		badgerhold.Where("SubmitterIP").Eq(ip).SortBy("CreatedAt").Reverse().Limit(1))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to find latest submission: %w", err)
	}
	if len(jobs) == 0 {
		return time.Time{}, nil
	}
	return jobs[0].CreatedAt, nil
}

func (s *ScanStorage) NextSubmissionCount(ctx context.Context, ip string) (int, error) {
	count, err := s.CountQueuedByIP(ctx, ip)
	if err != nil {
		return 0, err
	}
	return count + 1, nil
}

func (s *ScanStorage) GetScansOlderThan(ctx context.Context, cutoff time.Time) ([]*models.ScanJob, error) {
	var jobs []models.ScanJob
	if err := s.db.Store().Find(&jobs, badgerhold.Where("CreatedAt").Lt(cutoff)); err != nil {
		return nil, fmt.Errorf("failed to find expired scans: %w", err)
	}

	result := make([]*models.ScanJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *ScanStorage) DeleteScan(ctx context.Context, scanID string) error {
	if err := s.db.Store().Delete(scanID, &models.ScanJob{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete scan: %w", err)
	}
	return nil
}
