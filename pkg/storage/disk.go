package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"classroom-capture/pkg/models"

	"github.com/dgraph-io/badger/v3"
)

const (
	settingsKey    = "settings"
	statisticsKey  = "statistics/"
	lastSessionKey = "session/last"
)

// DiskStore is the device-scoped key/value store. Values are JSON.
type DiskStore interface {
	SaveSettings(s models.Settings) error
	LoadSettings() (models.Settings, error)
	SaveStatistics(sessionID string, stats models.ClassStatistics) error
	LoadStatistics(sessionID string) (models.ClassStatistics, error)
	SaveLastSession(sessionID string) error
	LoadLastSession() (string, error)
	Close() error
}

type diskStore struct {
	db *badger.DB
}

func NewDiskStore(path string) (DiskStore, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(path, "badger"))
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &diskStore{db: db}, nil
}

// NewInMemoryDiskStore returns a badger store that never touches the disk.
func NewInMemoryDiskStore() (DiskStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory badger database: %w", err)
	}
	return &diskStore{db: db}, nil
}

func (s *diskStore) SaveSettings(settings models.Settings) error {
	return s.put(settingsKey, settings)
}

func (s *diskStore) LoadSettings() (models.Settings, error) {
	var settings models.Settings
	err := s.get(settingsKey, &settings)
	return settings, err
}

func (s *diskStore) SaveStatistics(sessionID string, stats models.ClassStatistics) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	return s.put(statisticsKey+sessionID, stats)
}

func (s *diskStore) LoadStatistics(sessionID string) (models.ClassStatistics, error) {
	var stats models.ClassStatistics
	err := s.get(statisticsKey+sessionID, &stats)
	return stats, err
}

func (s *diskStore) SaveLastSession(sessionID string) error {
	return s.put(lastSessionKey, sessionID)
}

func (s *diskStore) LoadLastSession() (string, error) {
	var id string
	err := s.get(lastSessionKey, &id)
	return id, err
}

func (s *diskStore) put(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *diskStore) get(key string, v interface{}) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	return nil
}

func (s *diskStore) Close() error {
	return s.db.Close()
}

var ErrNotFound = errors.New("not found")
