package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	genoerrors "github.com/genostore/genostore/internal/errors"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, filepath.Join("data", "genostore", "genostore.db"), filepath.Clean(cfg.Store.Endpoint))
	assert.Equal(t, cfg.Storage.Path, cfg.StorageLocation())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"chunk size", func(c *Config) { c.Archive.ChunkSize = 0 }},
		{"workers", func(c *Config) { c.Driver.Workers = 0 }},
		{"retries", func(c *Config) { c.Driver.TaskRetries = -1 }},
		{"timeout", func(c *Config) { c.Driver.JobTimeout = 0 }},
		{"splits", func(c *Config) { c.Driver.SplitsPerChromosome = 0 }},
		{"storage type", func(c *Config) { c.Storage.Type = "ftp" }},
		{"s3 bucket", func(c *Config) { c.Storage.Type = "s3" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, genoerrors.CodeInvalidConfig, genoerrors.GetCode(err))
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "genostore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /tmp/geno
archive:
  chunk_size: 500
driver:
  workers: 8
storage:
  type: s3
  bucket: variants
`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/geno", cfg.DataDir)
	assert.Equal(t, 500, cfg.Archive.ChunkSize)
	assert.Equal(t, 8, cfg.Driver.Workers)
	assert.Equal(t, 3, cfg.Driver.TaskRetries, "unset fields keep defaults")
	assert.Equal(t, "s3://variants", cfg.StorageLocation())

	jsonPath := filepath.Join(dir, "genostore.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"driver": {"resume": true}}`), 0644))
	cfg, err = LoadFromFile(jsonPath)
	require.NoError(t, err)
	assert.True(t, cfg.Driver.Resume)

	_, err = LoadFromFile(filepath.Join(dir, "genostore.toml"))
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GENOSTORE_DRIVER_WORKERS", "16")
	t.Setenv("GENOSTORE_ARCHIVE_CHUNK_SIZE", "250")
	t.Setenv("GENOSTORE_DRIVER_JOB_TIMEOUT", "2m")

	cfg := DefaultConfig()
	require.NoError(t, LoadFromEnv(cfg))
	assert.Equal(t, 16, cfg.Driver.Workers)
	assert.Equal(t, 250, cfg.Archive.ChunkSize)
	assert.Equal(t, 2*time.Minute, cfg.Driver.JobTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestApplyOptions(t *testing.T) {
	cfg := DefaultConfig()
	err := ApplyOptions(cfg, []string{
		"opencga.archive.chunk_size", "100",
		"workers", "2",
		"job_timeout", "90s",
		"resume", "yes",
		"lenient", "true",
		"log_level", "debug",
	})
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Archive.ChunkSize)
	assert.Equal(t, 2, cfg.Driver.Workers)
	assert.Equal(t, 90*time.Second, cfg.Driver.JobTimeout)
	assert.True(t, cfg.Driver.Resume)
	assert.True(t, cfg.Driver.Lenient)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Driver.TaskRetries)

	assert.Error(t, ApplyOptions(DefaultConfig(), []string{"workers"}))
	assert.Error(t, ApplyOptions(DefaultConfig(), []string{"colour", "blue"}))
	assert.Error(t, ApplyOptions(DefaultConfig(), []string{"workers", "many"}))
}
