package badger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/interfaces"
	"github.com/ternarybob/webpscan/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ImageStorage implements the ImageStorage interface for Badger
type ImageStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	// upsertMu keeps the check-then-insert of UpsertImage atomic within
	// the process. Each scan is driven by a single worker, so contention
	// is only across scans.
	upsertMu sync.Mutex
}

// NewImageStorage creates a new ImageStorage instance
func NewImageStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ImageStorage {
	return &ImageStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ImageStorage) UpsertImage(ctx context.Context, image *models.DiscoveredImage) (bool, error) {
	if image.ScanID == "" || image.ImageURL == "" {
		return false, fmt.Errorf("scan ID and image URL are required")
	}

	s.upsertMu.Lock()
	defer s.upsertMu.Unlock()

	existing, err := s.getByScanAndURL(image.ScanID, image.ImageURL)
	if err != nil && err != ErrImageNotFound {
		return false, err
	}

	if existing != nil {
		// Duplicate sighting: merge page URLs onto the stored row
		changed := false
		for _, pageURL := range image.PageURLs {
			if existing.AddPageURL(pageURL) {
				changed = true
			}
		}
		if !changed {
			return false, nil
		}
		if err := s.db.Store().Upsert(existing.ID, existing); err != nil {
			return false, fmt.Errorf("failed to merge image page urls: %w", err)
		}
		return false, nil
	}

	if err := s.db.Store().Insert(image.ID, image); err != nil {
		return false, fmt.Errorf("failed to insert image: %w", err)
	}
	return true, nil
}

func (s *ImageStorage) GetImage(ctx context.Context, scanID, imageURL string) (*models.DiscoveredImage, error) {
	return s.getByScanAndURL(scanID, imageURL)
}

func (s *ImageStorage) getByScanAndURL(scanID, imageURL string) (*models.DiscoveredImage, error) {
	var images []models.DiscoveredImage
	err := s.db.Store().Find(&images,
		badgerhold.Where("ScanID").Eq(scanID).And("ImageURL").Eq(imageURL).Limit(1))
	if err != nil {
		return nil, fmt.Errorf("failed to query image: %w", err)
	}
	if len(images) == 0 {
		return nil, ErrImageNotFound
	}
	return &images[0], nil
}

func (s *ImageStorage) GetImagesByScan(ctx context.Context, scanID string) ([]*models.DiscoveredImage, error) {
	var images []models.DiscoveredImage
	err := s.db.Store().Find(&images,
		badgerhold.Where("ScanID").Eq(scanID).SortBy("DiscoveredAt"))
	if err != nil {
		return nil, fmt.Errorf("failed to get images for scan: %w", err)
	}

	result := make([]*models.DiscoveredImage, len(images))
	for i := range images {
		result[i] = &images[i]
	}
	return result, nil
}

func (s *ImageStorage) CountImagesByScan(ctx context.Context, scanID string) (int, error) {
	count, err := s.db.Store().Count(&models.DiscoveredImage{}, badgerhold.Where("ScanID").Eq(scanID))
	if err != nil {
		return 0, fmt.Errorf("failed to count images: %w", err)
	}
	return int(count), nil
}

func (s *ImageStorage) DeleteImagesByScan(ctx context.Context, scanID string) error {
	err := s.db.Store().DeleteMatching(&models.DiscoveredImage{}, badgerhold.Where("ScanID").Eq(scanID))
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete images for scan: %w", err)
	}
	return nil
}
