package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/carselling/uploadpipe/internal/common"
	"github.com/carselling/uploadpipe/internal/logging"
	"github.com/carselling/uploadpipe/internal/server/objectstore"
)

// Object-store reads right after a client-reported completion can race the
// backend's visibility; a few short retries paper over that without hiding a
// genuinely missing object.
var (
	headRetryBase = 250 * time.Millisecond
	headRetryMax  = uint64(4)
)

// headWithRetry fetches server-observed metadata for a key, retrying
// not-found for a short window. A key still missing afterwards surfaces as
// common.ErrVerificationFailed.
func headWithRetry(ctx context.Context, store objectstore.Client, key string) (*objectstore.ObjectInfo, error) {
	var info *objectstore.ObjectInfo

	backoff := retry.WithMaxRetries(headRetryMax, retry.NewExponential(headRetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var herr error
		info, herr = store.Head(ctx, key)
		if errors.Is(herr, common.ErrorNotFound) {
			return retry.RetryableError(herr)
		}
		return herr
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("object %s not visible: %w", key, common.ErrVerificationFailed)
		}
		return nil, fmt.Errorf("object %s head failed: %w", key, err)
	}

	if info.ContentHash == "" {
		return nil, fmt.Errorf("object %s has no content hash: %w", key, common.ErrVerificationFailed)
	}
	return info, nil
}

// copyWithRecovery copies src to dst inside the bucket. A missing source with
// the destination already present counts as success: it means a previous
// attempt got as far as the copy before dying.
func copyWithRecovery(ctx context.Context, store objectstore.Client, log logging.Logger, srcKey, dstKey string) (string, error) {
	objectID, err := store.Copy(ctx, srcKey, dstKey)
	if err == nil {
		return objectID, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return "", fmt.Errorf("copy %s -> %s: %w", srcKey, dstKey, err)
	}

	info, herr := store.Head(ctx, dstKey)
	if herr == nil {
		log.Warn(ctx, "source missing but target present, treating copy as done",
			"src", srcKey, "dst", dstKey)
		return info.ObjectID, nil
	}
	return "", fmt.Errorf("source %s gone and target %s absent: %w", srcKey, dstKey, common.ErrVerificationFailed)
}

// discardRedundant removes an object nothing references anymore. Failures are
// logged only; the stale-upload reaper catches leftovers under temp/.
func discardRedundant(ctx context.Context, store objectstore.Client, log logging.Logger, key string) {
	if err := store.Delete(ctx, key); err != nil {
		log.Warn(ctx, "failed to delete redundant object", "key", key, "error", err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, common.ErrorNotFound)
}

func isDuplicate(err error) bool {
	return errors.Is(err, common.ErrDuplicateAsset)
}

// truncateError bounds a failure message before it is persisted on a row.
func truncateError(err error, max int) string {
	msg := err.Error()
	if len(msg) > max {
		return msg[:max]
	}
	return msg
}
