// Package objectstore wraps the S3-compatible backend the clients upload to.
// The pipeline only ever sees server-observed object metadata from here;
// client-declared sizes and content types are never written through.
package objectstore

import (
	"context"
	"time"
)

// UploadTarget is a single-use, short-lived credential for one direct upload.
type UploadTarget struct {
	URL       string
	Key       string
	ExpiresAt time.Time
}

// ObjectInfo carries the server-observed identity of a stored object.
type ObjectInfo struct {
	// ObjectID is the store's identity for this object version.
	ObjectID string
	// ContentHash is the store-computed content hash.
	ContentHash string
	Size        int64
	ContentType string
}

// Client is the object-store surface the pipeline depends on.
type Client interface {
	// PresignUpload issues a one-time upload target for the given key.
	PresignUpload(ctx context.Context, key, contentType string) (*UploadTarget, error)

	// Head returns server-observed metadata, or common.ErrorNotFound when
	// the object does not exist.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// Copy duplicates src to dst within the bucket and returns the new
	// object id.
	Copy(ctx context.Context, srcKey, dstKey string) (string, error)

	// Delete removes one object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteByPrefix removes every object under the prefix.
	DeleteByPrefix(ctx context.Context, prefix string) error

	// PublicURL is the future public URL an object will be served from.
	PublicURL(key string) string
}
