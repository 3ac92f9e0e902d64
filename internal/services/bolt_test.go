package services_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prasannaarjun/graphrag-agent/internal/models"
	"github.com/prasannaarjun/graphrag-agent/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, fallbackToken string) services.BoltDB {
	t.Helper()
	db, err := services.NewBoltDB(filepath.Join(t.TempDir(), "test.db"), fallbackToken)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSettingsRoundTrip(t *testing.T) {
	db := newTestDB(t, "")

	// Nothing saved yet.
	settings, err := db.Settings()
	require.NoError(t, err)
	assert.Equal(t, models.Settings{}, settings)

	saved := models.Settings{
		APIToken:         "tok-123",
		PreferredModel:   "gpt-4o",
		LastConversation: "c1",
	}
	require.NoError(t, db.SaveSettings(saved))

	settings, err = db.Settings()
	require.NoError(t, err)
	assert.Equal(t, saved, settings)
}

func TestTokenFallback(t *testing.T) {
	db := newTestDB(t, "from-config")

	token, err := db.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-config", token)

	require.NoError(t, db.SaveSettings(models.Settings{APIToken: "from-settings"}))

	token, err = db.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-settings", token)
}
