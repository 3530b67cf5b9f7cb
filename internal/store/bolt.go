package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"norelock.dev/resonate/pluginhost/internal/models"
	"norelock.dev/resonate/pluginhost/internal/utils"
)

const registryBucket = "registry"

// snapshotKey holds the whole ordered snapshot under a single key so a save
// is one atomic bucket write.
var snapshotKey = []byte("plugins")

// BoltStore persists the registry snapshot in an embedded bbolt database.
type BoltStore struct {
	db     *bolt.DB
	logger *utils.Logger
}

// NewBoltStore opens (or creates) the database file at path.
func NewBoltStore(path string, logger *utils.Logger) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(registryBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create registry bucket: %w", err)
	}

	logger.Info("registry store opened", "driver", "bolt", "path", path)

	return &BoltStore{db: db, logger: logger.Named("store.bolt")}, nil
}

// SaveSnapshot replaces the persisted snapshot in a single transaction.
func (s *BoltStore) SaveSnapshot(ctx context.Context, entries []models.PluginConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(registryBucket)).Put(snapshotKey, data)
	})
}

// LoadSnapshot returns the persisted snapshot, or an empty slice when none
// has been written yet.
func (s *BoltStore) LoadSnapshot(ctx context.Context) ([]models.PluginConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entries []models.PluginConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(registryBucket)).Get(snapshotKey)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &entries)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	if entries == nil {
		entries = []models.PluginConfig{}
	}
	return entries, nil
}

// Ping verifies the database file is usable.
func (s *BoltStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(registryBucket)) == nil {
			return fmt.Errorf("registry bucket missing")
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *BoltStore) Close(ctx context.Context) error {
	return s.db.Close()
}
