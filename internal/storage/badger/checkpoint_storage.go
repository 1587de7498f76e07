package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/interfaces"
	"github.com/ternarybob/webpscan/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// CheckpointStorage implements the CheckpointStorage interface for Badger.
// Writes are last-writer-wins; the scan's owning worker is the only writer.
type CheckpointStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCheckpointStorage creates a new CheckpointStorage instance
func NewCheckpointStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CheckpointStorage {
	return &CheckpointStorage{
		db:     db,
		logger: logger,
	}
}

func (s *CheckpointStorage) SaveCheckpoint(ctx context.Context, checkpoint *models.CrawlCheckpoint) error {
	if checkpoint.ScanID == "" {
		return fmt.Errorf("checkpoint scan ID is required")
	}

	checkpoint.Canonicalize()

	now := time.Now()
	if checkpoint.CreatedAt.IsZero() {
		var existing models.CrawlCheckpoint
		if err := s.db.Store().Get(checkpoint.ScanID, &existing); err == nil {
			checkpoint.CreatedAt = existing.CreatedAt
		} else {
			checkpoint.CreatedAt = now
		}
	}
	checkpoint.UpdatedAt = now

	if err := s.db.Store().Upsert(checkpoint.ScanID, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *CheckpointStorage) GetCheckpoint(ctx context.Context, scanID string) (*models.CrawlCheckpoint, error) {
	var checkpoint models.CrawlCheckpoint
	if err := s.db.Store().Get(scanID, &checkpoint); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func (s *CheckpointStorage) DeleteCheckpoint(ctx context.Context, scanID string) error {
	if err := s.db.Store().Delete(scanID, &models.CrawlCheckpoint{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}
