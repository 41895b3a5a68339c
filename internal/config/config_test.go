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
	t.Setenv("HTTP_PORT", "")
	t.Setenv("QUEUE_BACKEND", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, "redis", cfg.QueueBackend)
	assert.Equal(t, 12*time.Hour, cfg.AccessTTL)
	assert.True(t, cfg.MigrateOnStart)
	assert.False(t, cfg.CloudinaryEnabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("ACCESS_TTL", "30m")
	t.Setenv("RATE_LIMIT_PER_MIN", "10")
	t.Setenv("MIGRATE_ON_START", "false")
	t.Setenv("APP_ENV", "prod")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.HTTPPort)
	assert.Equal(t, 30*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 10, cfg.RateLimitPerMin)
	assert.False(t, cfg.MigrateOnStart)
	assert.True(t, cfg.Production())
}

func TestInvalidValuesFallBackAndAreReported(t *testing.T) {
	t.Setenv("ACCESS_TTL", "soon")
	t.Setenv("RATE_LIMIT_PER_MIN", "many")
	t.Setenv("MIGRATE_ON_START", "maybe")
	t.Setenv("TIMEZONE", "Nowhere/Special")
	cfg, err := Load()
	assert.Equal(t, 12*time.Hour, cfg.AccessTTL)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
	assert.True(t, cfg.MigrateOnStart)
	assert.Equal(t, time.UTC, cfg.Location())

	require.Error(t, err)
	for _, key := range []string{"ACCESS_TTL", "RATE_LIMIT_PER_MIN", "MIGRATE_ON_START", "Nowhere/Special"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestUnreadableEnvFileIsReported(t *testing.T) {
	dir := t.TempDir()
	// a directory named .env cannot be read as a file
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".env"), 0o755))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load .env")
	assert.NotEmpty(t, cfg.HTTPPort)
}

func TestLocation(t *testing.T) {
	assert.Equal(t, "Asia/Jakarta", App{Timezone: "Asia/Jakarta"}.Location().String())
	assert.Equal(t, time.UTC, App{Timezone: "Nowhere/Special"}.Location())
}
