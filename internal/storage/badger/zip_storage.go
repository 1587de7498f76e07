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

// ZipStorage implements the ZipStorage interface for Badger
type ZipStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewZipStorage creates a new ZipStorage instance
func NewZipStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ZipStorage {
	return &ZipStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ZipStorage) SaveZip(ctx context.Context, zip *models.ConvertedImageZip) error {
	if zip.DownloadID == "" {
		return fmt.Errorf("zip download ID is required")
	}
	if !zip.ExpiresAt.After(zip.CreatedAt) {
		return fmt.Errorf("zip expiry %s is not after creation %s", zip.ExpiresAt, zip.CreatedAt)
	}

	if err := s.db.Store().Upsert(zip.DownloadID, zip); err != nil {
		return fmt.Errorf("failed to save zip: %w", err)
	}
	return nil
}

func (s *ZipStorage) GetZip(ctx context.Context, downloadID string) (*models.ConvertedImageZip, error) {
	var zip models.ConvertedImageZip
	if err := s.db.Store().Get(downloadID, &zip); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, ErrZipNotFound
		}
		return nil, fmt.Errorf("failed to get zip: %w", err)
	}
	return &zip, nil
}

func (s *ZipStorage) GetZipByScan(ctx context.Context, scanID string) (*models.ConvertedImageZip, error) {
	var zips []models.ConvertedImageZip
	err := s.db.Store().Find(&zips, badgerhold.Where("ScanID").Eq(scanID).Limit(1))
	if err != nil {
		return nil, fmt.Errorf("failed to query zip by scan: %w", err)
	}
	if len(zips) == 0 {
		return nil, ErrZipNotFound
	}
	return &zips[0], nil
}

func (s *ZipStorage) GetExpiredZips(ctx context.Context, now time.Time) ([]*models.ConvertedImageZip, error) {
	var zips []models.ConvertedImageZip
	if err := s.db.Store().Find(&zips, badgerhold.Where("ExpiresAt").Le(now)); err != nil {
		return nil, fmt.Errorf("failed to find expired zips: %w", err)
	}

	result := make([]*models.ConvertedImageZip, len(zips))
	for i := range zips {
		result[i] = &zips[i]
	}
	return result, nil
}

func (s *ZipStorage) DeleteZip(ctx context.Context, downloadID string) error {
	if err := s.db.Store().Delete(downloadID, &models.ConvertedImageZip{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete zip: %w", err)
	}
	return nil
}

func (s *ZipStorage) DeleteZipsByScan(ctx context.Context, scanID string) error {
	err := s.db.Store().DeleteMatching(&models.ConvertedImageZip{}, badgerhold.Where("ScanID").Eq(scanID))
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete zips for scan: %w", err)
	}
	return nil
}
