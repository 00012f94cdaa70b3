package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, DriverPostgres, cfg.DatabaseDriver)
		assert.Equal(t, ProviderFileSystem, cfg.StorageProvider)
		assert.Equal(t, time.Hour, cfg.CleanupInterval)
		assert.Equal(t, time.Second, cfg.ReadinessInitialBackoff)
		assert.Equal(t, 30*time.Second, cfg.ReadinessMaxBackoff)
		assert.Equal(t, 720*time.Hour, cfg.FolderDefaultExpiry)
		assert.Equal(t, int64(5*1024*1024*1024), cfg.MaxFileSize)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("DATABASE_DRIVER", "sqlite")
		t.Setenv("SQLITE_PATH", "/tmp/x.db")
		t.Setenv("CLEANUP_INTERVAL", "15m")
		t.Setenv("STORAGE_PROVIDER", "minio")
		t.Setenv("MINIO_BUCKET", "files")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, DriverSQLite, cfg.DatabaseDriver)
		assert.Equal(t, "/tmp/x.db", cfg.SQLitePath)
		assert.Equal(t, 15*time.Minute, cfg.CleanupInterval)
		assert.Equal(t, "files", cfg.Minio.Bucket)
	})

	t.Run("rejects unknown driver", func(t *testing.T) {
		t.Setenv("DATABASE_DRIVER", "mysql")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("rejects unparsable duration", func(t *testing.T) {
		t.Setenv("CLEANUP_INTERVAL", "soon")
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DatabaseDriver:          DriverSQLite,
			StorageProvider:         ProviderFileSystem,
			MaxFileSize:             1,
			CleanupInterval:         time.Minute,
			ReadinessInitialBackoff: time.Second,
			ReadinessMaxBackoff:     time.Second,
			RateLimitRPS:            1,
			RateLimitBurst:          1,
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.StorageProvider = "s3" }},
		{"minio without bucket", func(c *Config) { c.StorageProvider = ProviderMinio; c.Minio.Endpoint = "x" }},
		{"zero interval", func(c *Config) { c.CleanupInterval = 0 }},
		{"max backoff below initial", func(c *Config) { c.ReadinessMaxBackoff = time.Millisecond }},
		{"zero max file size", func(c *Config) { c.MaxFileSize = 0 }},
		{"zero burst", func(c *Config) { c.RateLimitBurst = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
