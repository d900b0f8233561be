package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/cartflow")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "read committed", cfg.Database.Isolation)
	assert.Equal(t, 3, cfg.Cart.MaxAttempts)
	assert.Equal(t, 25*time.Millisecond, cfg.Cart.RetryBackoff)
	assert.Equal(t, 30*time.Second, cfg.Redis.CacheTTL)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CART_TX_MAX_ATTEMPTS=7\nREDIS_ADDR=localhost:6379\n"), 0o600))
	t.Setenv("DATABASE_URL", "postgres://localhost/cartflow")
	t.Setenv("CART_TX_MAX_ATTEMPTS", "")
	os.Unsetenv("CART_TX_MAX_ATTEMPTS")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Cart.MaxAttempts)
	// The process environment wins over the file.
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	os.Unsetenv("DATABASE_URL")

	_, err := Load()
	assert.Error(t, err)
}
