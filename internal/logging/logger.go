// Package logging defines the structured logger the pipeline services write
// to. Keeping it an interface leaves the backend swappable; the server wires
// a slog JSON handler.
package logging

import "context"

// Logger is a context-aware, structured logger. The variadic args are
// key-value pairs:
//
//	log.Info(ctx, "upload committed", "asset_id", asset.ID, "storage_key", key)
type Logger interface {
	// Info logs an informational message.
	Info(ctx context.Context, msg string, args ...any)

	// Warn logs unusual but non-fatal conditions (a redundant object that
	// refused to delete, a batch rescheduled for another attempt).
	Warn(ctx context.Context, msg string, args ...any)

	// Error logs failures.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key-value
	// pairs.
	With(args ...any) Logger
}
