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
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/app/screenshots", cfg.ScreenshotDir)
	assert.Equal(t, "/app/cache", cfg.CacheDir)
	assert.Equal(t, 3600, cfg.CacheTTL)
	assert.Equal(t, time.Hour, cfg.TTL())
	assert.Equal(t, 3, cfg.MaxConcurrent)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "file", cfg.CacheBackend)
	assert.Empty(t, cfg.APIKey)
	assert.False(t, cfg.DedupeInflight)
	assert.True(t, cfg.BrowserHeadless)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MAX_CONCURRENT", "7")
	t.Setenv("CACHE_TTL", "60")
	t.Setenv("API_KEY", "secret")
	t.Setenv("DEDUPE_INFLIGHT", "true")
	t.Setenv("CACHE_BACKEND", "clover")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.MaxConcurrent)
	assert.Equal(t, time.Minute, cfg.TTL())
	assert.Equal(t, "secret", cfg.APIKey)
	assert.True(t, cfg.DedupeInflight)
	assert.Equal(t, "clover", cfg.CacheBackend)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PORT=4010\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("PORT") })

	cfg, err := Load(envFile, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 4010, cfg.Port)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"MAX_CONCURRENT": "0",
		"CACHE_TTL":      "-5",
		"CACHE_BACKEND":  "memcached",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
