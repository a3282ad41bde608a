package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/carselling/uploadpipe/internal/flagx"
	"github.com/carselling/uploadpipe/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "1s" and integer nanoseconds.
//
// This struct is an intermediate DTO (Data Transfer Object) used only for
// reading JSON configuration files. After unmarshalling, its fields are
// copied into the runtime Config struct which uses time.Duration.
type JsonConfig struct {
	DatabaseDSN          string         `json:"database_dsn"`
	RedisURL             string         `json:"redis_url"`
	S3RootUser           string         `json:"s3_root_user"`
	S3RootPassword       string         `json:"s3_root_password"`
	S3Bucket             string         `json:"s3_bucket"`
	S3Region             string         `json:"s3_region"`
	S3BaseEndpoint       string         `json:"s3_base_endpoint"`
	CDNDomain            string         `json:"cdn_domain"`
	PresignExpiry        timex.Duration `json:"presign_expiry"`
	MaxCarRetries        int            `json:"max_car_retries"`
	CarRetryBackoffBase  timex.Duration `json:"car_retry_backoff_base"`
	CarRetryBackoffCap   timex.Duration `json:"car_retry_backoff_cap"`
	MaxFileRetries       int            `json:"max_file_retries"`
	FileRetryBackoffBase timex.Duration `json:"file_retry_backoff_base"`
	CarBatchSize         int            `json:"car_batch_size"`
	FileBatchSize        int            `json:"file_batch_size"`
	RetentionBatchSize   int            `json:"retention_batch_size"`
	ClaimDuration        timex.Duration `json:"claim_duration"`
	FinalizeMarkTTL      timex.Duration `json:"finalize_mark_ttl"`
	StaleUploadAge       timex.Duration `json:"stale_upload_age"`
	RescueWindow         timex.Duration `json:"rescue_window"`
	ChatRetentionAge     timex.Duration `json:"chat_retention_age"`
	CarScanInterval      timex.Duration `json:"car_scan_interval"`
	FileScanInterval     timex.Duration `json:"file_scan_interval"`
	FileScanOffset       timex.Duration `json:"file_scan_offset"`
	CleanupCronSpec      string         `json:"cleanup_cron_spec"`
	RetentionCronSpec    string         `json:"retention_cron_spec"`
	MaxImageBytes        int64          `json:"max_image_bytes"`
	MaxVideoBytes        int64          `json:"max_video_bytes"`
	MaxAttachmentBytes   int64          `json:"max_attachment_bytes"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The lookup order for the JSON file path is:
//
//	The -c or -config command-line flags.
//	If it is not set, no JSON file is loaded.
//
// If the file path is found, parseJson attempts to read and unmarshal it
// into a JsonConfig. The resulting values are copied into the target Config.
// If the file cannot be read or contains invalid JSON, the function panics.
//
// The caller is expected to merge these values with defaults and
// command-line flags as part of the full configuration process.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.DatabaseDSN = c.DatabaseDSN
	config.RedisURL = c.RedisURL
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
	config.CDNDomain = c.CDNDomain
	config.PresignExpiry = time.Duration(c.PresignExpiry.Duration)
	config.MaxCarRetries = c.MaxCarRetries
	config.CarRetryBackoffBase = time.Duration(c.CarRetryBackoffBase.Duration)
	config.CarRetryBackoffCap = time.Duration(c.CarRetryBackoffCap.Duration)
	config.MaxFileRetries = c.MaxFileRetries
	config.FileRetryBackoffBase = time.Duration(c.FileRetryBackoffBase.Duration)
	config.CarBatchSize = c.CarBatchSize
	config.FileBatchSize = c.FileBatchSize
	config.RetentionBatchSize = c.RetentionBatchSize
	config.ClaimDuration = time.Duration(c.ClaimDuration.Duration)
	config.FinalizeMarkTTL = time.Duration(c.FinalizeMarkTTL.Duration)
	config.StaleUploadAge = time.Duration(c.StaleUploadAge.Duration)
	config.RescueWindow = time.Duration(c.RescueWindow.Duration)
	config.ChatRetentionAge = time.Duration(c.ChatRetentionAge.Duration)
	config.CarScanInterval = time.Duration(c.CarScanInterval.Duration)
	config.FileScanInterval = time.Duration(c.FileScanInterval.Duration)
	config.FileScanOffset = time.Duration(c.FileScanOffset.Duration)
	config.CleanupCronSpec = c.CleanupCronSpec
	config.RetentionCronSpec = c.RetentionCronSpec
	config.MaxImageBytes = c.MaxImageBytes
	config.MaxVideoBytes = c.MaxVideoBytes
	config.MaxAttachmentBytes = c.MaxAttachmentBytes
}
