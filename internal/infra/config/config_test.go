package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("STORE_MODE", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.StoreMode)
	assert.Equal(t, 200, cfg.LiveWindow)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}, cfg.RetryBackoff)
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.True(t, cfg.Dev())
}

func TestLoadRequiresMongoURIForMongoStore(t *testing.T) {
	t.Setenv("STORE_MODE", "mongo")
	t.Setenv("MONGO_URI", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRequiresSecretOutsideDev(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("STORE_MODE", "memory")
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("LIVE_WINDOW", "many")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("LIVE_WINDOW", "0")
	t.Setenv("MARK_READ_WHILE_OPEN", "maybe")
	_, err = Load()
	require.Error(t, err)
}
