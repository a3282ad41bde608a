package models

import "time"

// Staged upload statuses.
const (
	StagedStatusStaged = "STAGED"
	StagedStatusFailed = "FAILED"
)

// StagedUpload is a temporary record: bytes exist in the object store but are
// not yet committed to a business entity. Rows are deleted on promotion, on
// duplicate-discard, or by the stale-upload reaper.
type StagedUpload struct {
	ID         string
	StorageKey string
	// ObjectID is the object-store identity (ETag) observed at completion.
	ObjectID string
	OwnerID  string
	// CarID is set when the destined parent entity is already known.
	CarID        string
	FileName     string
	OriginalName string
	// ContentHash is the server-observed hash; empty until verified.
	ContentHash string
	Size        int64
	ContentType string
	Status      string
	RetryCount  int
	NextRetryAt *time.Time
	LastError   string
	CreatedAt   time.Time
}
