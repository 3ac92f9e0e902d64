package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prasannaarjun/graphrag-agent/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB persists local UI state using a BoltDB backend: the API token, the
// preferred model and the last opened conversation. The backend owns all
// conversation and document data; nothing from the remote service is
// mirrored here.
type BoltDB struct {
	db *bolt.DB

	fallbackToken string
}

const (
	settingsBucket = "settings"
	settingsKey    = "ui"
)

// NewBoltDB creates a new BoltDB instance with the specified file path. The
// database file is created with 0600 permissions if it doesn't exist.
// fallbackToken is used as the API credential while no token has been saved
// through the settings page.
func NewBoltDB(path, fallbackToken string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(settingsBucket))
		return err
	})

	return BoltDB{db: db, fallbackToken: fallbackToken}, err
}

// Settings retrieves the stored UI settings. An empty Settings value is
// returned when nothing has been saved yet.
func (b BoltDB) Settings() (models.Settings, error) {
	var settings models.Settings
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(settingsBucket))
		if bkt == nil {
			return nil
		}

		v := bkt.Get([]byte(settingsKey))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &settings); err != nil {
			return fmt.Errorf("failed to unmarshal settings: %w", err)
		}
		return nil
	})
	return settings, err
}

// SaveSettings stores the UI settings, replacing any previous value.
func (b BoltDB) SaveSettings(settings models.Settings) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(settingsBucket))
		if bkt == nil {
			return nil
		}

		v, err := json.Marshal(settings)
		if err != nil {
			return fmt.Errorf("failed to marshal settings: %w", err)
		}
		return bkt.Put([]byte(settingsKey), v)
	})
}

// Token implements api.CredentialProvider. The token saved through the
// settings page takes precedence over the configured fallback.
func (b BoltDB) Token(context.Context) (string, error) {
	settings, err := b.Settings()
	if err != nil {
		return "", err
	}
	if settings.APIToken != "" {
		return settings.APIToken, nil
	}
	return b.fallbackToken, nil
}

// Close releases the underlying database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}
