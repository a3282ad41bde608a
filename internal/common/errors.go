// Package common defines shared constants and sentinel errors used across
// the upload pipeline. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// ErrDuplicateAsset signals the (content hash, owner) unique index fired.
	// Not a failure: the caller resolves it to the existing committed asset.
	ErrDuplicateAsset = errors.New("duplicate asset")

	// Finalization errors, split into transient vs terminal.

	// ErrVerificationFailed means the object store could not confirm the
	// uploaded object (missing object, hash unavailable). Retryable.
	ErrVerificationFailed = errors.New("object verification failed")

	// ErrPolicyViolation means the observed content type or size is not
	// allowed. Terminal: never retried.
	ErrPolicyViolation = errors.New("upload policy violation")

	// ErrRetriesExhausted marks a parent entity that reached its retry bound
	// and needs operator intervention.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrNotClaimed is returned when another worker holds the claim on a row.
	ErrNotClaimed = errors.New("row claimed by another worker")

	// ErrFinalizeInFlight means another worker holds the finalization mark
	// for the same content and no committed asset exists yet. Retryable.
	ErrFinalizeInFlight = errors.New("finalization already in flight")
)
