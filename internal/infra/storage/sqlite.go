package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"krader/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store persists pair reference metadata and cached request payloads.
type Store struct {
	db *gorm.DB
}

// NewStore opens (or creates) the SQLite database at path.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Pure Go SQLite driver, no cgo.
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.PairInfo{}, &domain.CacheRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// DefaultPath resolves the database file path based on OS.
func DefaultPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "Krader", "data", "krader.db"), nil
}

// ======================================================================================
// Pair Operations
// ======================================================================================

// UpsertPair creates or updates pair reference metadata.
func (s *Store) UpsertPair(pair *domain.PairInfo) error {
	return s.db.Save(pair).Error
}

// GetPair retrieves pair metadata by canonical symbol.
func (s *Store) GetPair(symbol string) (*domain.PairInfo, error) {
	var info domain.PairInfo
	err := s.db.First(&info, "symbol = ?", symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &info, err
}

// AllPairs retrieves all known pairs.
func (s *Store) AllPairs() ([]domain.PairInfo, error) {
	var pairs []domain.PairInfo
	err := s.db.Find(&pairs).Error
	return pairs, err
}

// ToggleFavorite flips the favorite flag of a pair.
func (s *Store) ToggleFavorite(symbol string) (bool, error) {
	var info domain.PairInfo
	if err := s.db.First(&info, "symbol = ?", symbol).Error; err != nil {
		return false, err
	}

	info.IsFavorite = !info.IsFavorite
	err := s.db.Save(&info).Error
	return info.IsFavorite, err
}

// DeletePair removes a pair from the database.
func (s *Store) DeletePair(symbol string) error {
	return s.db.Where("symbol = ?", symbol).Delete(&domain.PairInfo{}).Error
}

// ======================================================================================
// Cache Payload Operations
// ======================================================================================

// Save persists one cached payload with its expiry.
func (s *Store) Save(key string, payload []byte, expiry time.Time) error {
	record := domain.CacheRecord{
		Key:     key,
		Payload: payload,
		Expiry:  expiry,
	}
	return s.db.Save(&record).Error
}

// Load retrieves one cached payload and its expiry. A missing key
// comes back as domain.ErrConfigNotFound.
func (s *Store) Load(key string) ([]byte, time.Time, error) {
	var record domain.CacheRecord
	err := s.db.First(&record, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, time.Time{}, domain.ErrConfigNotFound
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	return record.Payload, record.Expiry, nil
}

// PruneExpired removes cached payloads whose expiry is in the past.
func (s *Store) PruneExpired() error {
	return s.db.Where("expiry < ?", time.Now()).Delete(&domain.CacheRecord{}).Error
}
