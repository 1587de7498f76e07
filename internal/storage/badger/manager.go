package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/common"
	"github.com/ternarybob/webpscan/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db         *BadgerDB
	scan       interfaces.ScanStorage
	image      interfaces.ImageStorage
	checkpoint interfaces.CheckpointStorage
	zip        interfaces.ZipStorage
	stats      interfaces.StatsStorage
	logger     arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:         db,
		scan:       NewScanStorage(db, logger),
		image:      NewImageStorage(db, logger),
		checkpoint: NewCheckpointStorage(db, logger),
		zip:        NewZipStorage(db, logger),
		stats:      NewStatsStorage(db, logger),
		logger:     logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// ScanStorage returns the scan job repository
func (m *Manager) ScanStorage() interfaces.ScanStorage {
	return m.scan
}

// ImageStorage returns the discovered-image repository
func (m *Manager) ImageStorage() interfaces.ImageStorage {
	return m.image
}

// CheckpointStorage returns the crawl checkpoint repository
func (m *Manager) CheckpointStorage() interfaces.CheckpointStorage {
	return m.checkpoint
}

// ZipStorage returns the converted-image zip repository
func (m *Manager) ZipStorage() interfaces.ZipStorage {
	return m.zip
}

// StatsStorage returns the aggregate stats repository
func (m *Manager) StatsStorage() interfaces.StatsStorage {
	return m.stats
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
