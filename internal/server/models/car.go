package models

import "time"

// Media finalization states of a car. NextRetryAt is non-nil only while the
// car is PROCESSING and under the retry bound; FAILED and COMPLETE are
// terminal for the scheduler.
const (
	MediaStatusInit       = "INIT"
	MediaStatusProcessing = "PROCESSING"
	MediaStatusComplete   = "COMPLETE"
	MediaStatusFailed     = "FAILED"
)

// Car carries the parent-entity retry state for a media batch. Only the
// media-related columns are owned by this subsystem.
type Car struct {
	ID          string
	OwnerID     string
	MediaStatus string
	RetryCount  int
	NextRetryAt *time.Time
	// ClaimUntil marks the row as claimed by one worker per tick so that
	// concurrently running instances do not process the same car.
	ClaimUntil *time.Time
	CoverURL   string
	VideoURL   string
	CreatedAt  time.Time
}
