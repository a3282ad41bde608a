package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"database_dsn":            "media.db",
		"redis_url":               "redis://localhost:6379/1",
		"s3_root_user":            "user",
		"s3_root_password":        "password",
		"s3_bucket":               "bucket",
		"s3_region":               "region",
		"s3_base_endpoint":        "base_endpoint",
		"cdn_domain":              "https://cdn.example.com",
		"presign_expiry":          "20m",
		"max_car_retries":         5,
		"car_retry_backoff_base":  "1m",
		"car_retry_backoff_cap":   "16m",
		"max_file_retries":        3,
		"file_retry_backoff_base": "60s",
		"car_batch_size":          10,
		"file_batch_size":         20,
		"retention_batch_size":    100,
		"claim_duration":          "5m",
		"finalize_mark_ttl":       "10m",
		"stale_upload_age":        "48h",
		"rescue_window":           "24h",
		"chat_retention_age":      "2160h",
		"car_scan_interval":       "1m",
		"file_scan_interval":      "2m",
		"file_scan_offset":        "30s",
		"cleanup_cron_spec":       "0 3 * * *",
		"retention_cron_spec":     "30 3 * * *",
		"max_image_bytes":         1048576,
		"max_video_bytes":         2097152,
		"max_attachment_bytes":    4194304,
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		parseJson(cfg)

		assert.Equal(t, "media.db", cfg.DatabaseDSN)
		assert.Equal(t, "redis://localhost:6379/1", cfg.RedisURL)
		assert.Equal(t, "user", cfg.S3RootUser)
		assert.Equal(t, "password", cfg.S3RootPassword)
		assert.Equal(t, "bucket", cfg.S3Bucket)
		assert.Equal(t, "region", cfg.S3Region)
		assert.Equal(t, "base_endpoint", cfg.S3BaseEndpoint)
		assert.Equal(t, "https://cdn.example.com", cfg.CDNDomain)
		assert.Equal(t, 20*time.Minute, cfg.PresignExpiry)
		assert.Equal(t, 5, cfg.MaxCarRetries)
		assert.Equal(t, 1*time.Minute, cfg.CarRetryBackoffBase)
		assert.Equal(t, 16*time.Minute, cfg.CarRetryBackoffCap)
		assert.Equal(t, 3, cfg.MaxFileRetries)
		assert.Equal(t, 60*time.Second, cfg.FileRetryBackoffBase)
		assert.Equal(t, 10, cfg.CarBatchSize)
		assert.Equal(t, 20, cfg.FileBatchSize)
		assert.Equal(t, 100, cfg.RetentionBatchSize)
		assert.Equal(t, 5*time.Minute, cfg.ClaimDuration)
		assert.Equal(t, 10*time.Minute, cfg.FinalizeMarkTTL)
		assert.Equal(t, 48*time.Hour, cfg.StaleUploadAge)
		assert.Equal(t, 24*time.Hour, cfg.RescueWindow)
		assert.Equal(t, 2160*time.Hour, cfg.ChatRetentionAge)
		assert.Equal(t, 1*time.Minute, cfg.CarScanInterval)
		assert.Equal(t, 2*time.Minute, cfg.FileScanInterval)
		assert.Equal(t, 30*time.Second, cfg.FileScanOffset)
		assert.Equal(t, "0 3 * * *", cfg.CleanupCronSpec)
		assert.Equal(t, "30 3 * * *", cfg.RetentionCronSpec)
		assert.Equal(t, int64(1048576), cfg.MaxImageBytes)
		assert.Equal(t, int64(2097152), cfg.MaxVideoBytes)
		assert.Equal(t, int64(4194304), cfg.MaxAttachmentBytes)
	})

	t.Run("no CONFIG and no flags → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{
			DatabaseDSN:    "media.db",
			RedisURL:       "redis://somewhere:6379",
			S3RootUser:     "s3root",
			S3RootPassword: "s3rootpassword",
			S3Bucket:       "s3bucket",
			S3Region:       "s3region",
			S3BaseEndpoint: "s3baseendpoint",
			CDNDomain:      "cdn",
			PresignExpiry:  2 * time.Minute,
		}
		parseJson(cfg)

		assert.Equal(t, "media.db", cfg.DatabaseDSN)
		assert.Equal(t, "redis://somewhere:6379", cfg.RedisURL)
		assert.Equal(t, "s3root", cfg.S3RootUser)
		assert.Equal(t, "s3rootpassword", cfg.S3RootPassword)
		assert.Equal(t, "s3bucket", cfg.S3Bucket)
		assert.Equal(t, "s3region", cfg.S3Region)
		assert.Equal(t, "s3baseendpoint", cfg.S3BaseEndpoint)
		assert.Equal(t, "cdn", cfg.CDNDomain)
		assert.Equal(t, 2*time.Minute, cfg.PresignExpiry)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})
}
