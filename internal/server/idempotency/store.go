// Package idempotency provides short-lived completion marks keyed by content
// hash and owner. The marks only suppress concurrent duplicate finalization
// work across backend instances; the database unique index on
// (content_hash, owner_id) remains the hard dedup guarantee, so losing a mark
// is always safe.
package idempotency

import (
	"context"
	"time"
)

// Store is a TTL-scoped set of in-flight finalization marks.
type Store interface {
	// Acquire marks the key for ttl. It returns false when the key is
	// already marked, meaning another worker is finalizing the same content.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release drops the mark early so a failed finalization can be retried
	// before the TTL runs out.
	Release(ctx context.Context, key string) error
}

// Key builds the mark key for one (content hash, owner) pair.
func Key(contentHash, ownerID string) string {
	return "upload:finalize:" + contentHash + ":" + ownerID
}
