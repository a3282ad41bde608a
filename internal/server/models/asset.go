package models

import "time"

// CommittedAsset is the durable, business-visible file record. At most one
// exists per (content hash, owner) pair; the database enforces that with a
// unique index, dedup in the finalizer is not merely advisory.
type CommittedAsset struct {
	ID           string
	PublicURL    string
	StorageKey   string
	ObjectID     string
	ContentHash  string
	Size         int64
	ContentType  string
	FileName     string
	OriginalName string
	OwnerID      string
	ResourceType ResourceType
	// ResourceID points at the owning entity of ResourceType (car id,
	// chat id, ...). Empty for unattached uploads.
	ResourceID string
	Access     AccessType
	CreatedAt  time.Time
}
