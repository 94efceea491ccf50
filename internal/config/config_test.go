package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizdir/internal/blob"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "bizdir.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "fs", cfg.Assets.Driver)
	assert.Equal(t, int64(5<<20), cfg.Assets.MaxImageBytes)
	assert.Equal(t, 30*time.Second, cfg.Assets.HostTimeout)
	assert.Equal(t, "BIZ", cfg.Directory.IdentifierPrefix)
	assert.Equal(t, "+252", cfg.Directory.CallingCode)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestParseNestedPrefixes(t *testing.T) {
	cfg, err := Parse(map[string]string{
		"BIZDIR_STORAGE_DRIVER":         "postgres",
		"BIZDIR_STORAGE_POSTGRES_DSN":   "postgres://db/bizdir",
		"BIZDIR_ASSETS_DRIVER":          "s3",
		"BIZDIR_ASSETS_S3_BUCKET":       "listings",
		"BIZDIR_ASSETS_S3_PATH_STYLE":   "true",
		"BIZDIR_ASSETS_PUBLIC_BASE_URL": "https://cdn.example.com",
		"BIZDIR_REDIS_ADDR":             "localhost:6379",
		"BIZDIR_DIRECTORY_CALLING_CODE": "+254",
		"BIZDIR_LOG_FORMAT":             "console",
		"BIZDIR_METRICS_ADDR":           ":9100",
	})
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://db/bizdir", cfg.Storage.PostgresDSN)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "+254", cfg.Directory.CallingCode)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, ":9100", cfg.MetricsAddr)

	b := cfg.Assets.Blob()
	assert.Equal(t, blob.DriverS3, b.Driver)
	assert.Equal(t, "listings", b.S3.Bucket)
	assert.True(t, b.S3.PathStyle)
	assert.Equal(t, "https://cdn.example.com", b.PublicBaseURL)
}

func TestParseRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown storage":   {"BIZDIR_STORAGE_DRIVER": "oracle"},
		"unknown assets":    {"BIZDIR_ASSETS_DRIVER": "ftp"},
		"s3 without bucket": {"BIZDIR_ASSETS_DRIVER": "s3"},
		"host without url":  {"BIZDIR_ASSETS_DRIVER": "httphost"},
		"zero rate":         {"BIZDIR_ASSETS_UPLOAD_RATE": "0"},
		"bad duration":      {"BIZDIR_ASSETS_HOST_TIMEOUT": "soon"},
	}
	for name, environment := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(environment)
			assert.Error(t, err)
		})
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("BIZDIR_DIRECTORY_IDENTIFIER_PREFIX=MOG\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("BIZDIR_DIRECTORY_IDENTIFIER_PREFIX") })
	t.Setenv("BIZDIR_STORAGE_DRIVER", "memory")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "MOG", cfg.Directory.IdentifierPrefix)
	assert.Equal(t, "memory", cfg.Storage.Driver)
}

func TestLoadIgnoresMissingFile(t *testing.T) {
	t.Setenv("BIZDIR_STORAGE_DRIVER", "memory")
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
}
