// Package staged persists StagedUpload rows: object-store bytes that are not
// yet committed to a business entity.
package staged

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/carselling/uploadpipe/internal/common"
	"github.com/carselling/uploadpipe/internal/dbx"
	"github.com/carselling/uploadpipe/internal/server/models"
)

// PostgresRepository implements staged-upload storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const stagedColumns = `id, storage_key, object_id, owner_id, car_id, file_name, original_name,
		content_hash, size, content_type, status, retry_count, next_retry_at, last_error, created_at`

func (r *PostgresRepository) Create(ctx context.Context, u *models.StagedUpload) error {
	query := `
		INSERT INTO staged_uploads (` + stagedColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.StorageKey, u.ObjectID, u.OwnerID, nullString(u.CarID), u.FileName,
		nullString(u.OriginalName), nullString(u.ContentHash), u.Size, nullString(u.ContentType),
		u.Status, u.RetryCount, nullTime(u.NextRetryAt), nullString(u.LastError), u.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.StagedUpload, error) {
	query := `SELECT ` + stagedColumns + ` FROM staged_uploads WHERE id=$1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByStorageKey(ctx context.Context, key string) (*models.StagedUpload, error) {
	query := `SELECT ` + stagedColumns + ` FROM staged_uploads WHERE storage_key=$1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, key))
}

// SelectByCarAndStatus returns the staged rows belonging to one parent car.
func (r *PostgresRepository) SelectByCarAndStatus(ctx context.Context, carID, status string) ([]*models.StagedUpload, error) {
	query := `SELECT ` + stagedColumns + ` FROM staged_uploads
		WHERE car_id=$1 AND status=$2 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, carID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to select staged uploads: %w", err)
	}
	return r.scanAll(rows)
}

// SelectDueFailed returns FAILED rows whose retry clock has come due, oldest
// first, bounded so one tick cannot pick up unbounded work.
func (r *PostgresRepository) SelectDueFailed(ctx context.Context, now time.Time, limit int) ([]*models.StagedUpload, error) {
	query := `SELECT ` + stagedColumns + ` FROM staged_uploads
		WHERE status='FAILED' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		ORDER BY next_retry_at ASC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select due failed uploads: %w", err)
	}
	return r.scanAll(rows)
}

// SelectStale returns STAGED rows older than the cutoff; these are abandoned
// client sessions the reaper garbage-collects.
func (r *PostgresRepository) SelectStale(ctx context.Context, cutoff time.Time) ([]*models.StagedUpload, error) {
	query := `SELECT ` + stagedColumns + ` FROM staged_uploads
		WHERE status='STAGED' AND created_at < $1 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to select stale uploads: %w", err)
	}
	return r.scanAll(rows)
}

// MarkFailed records a per-file failure with its backoff schedule.
func (r *PostgresRepository) MarkFailed(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastError string) error {
	query := `UPDATE staged_uploads
		SET status='FAILED', retry_count=$1, next_retry_at=$2, last_error=$3
		WHERE id=$4`
	return r.execOne(ctx, query, retryCount, nextRetryAt, lastError, id)
}

// ResetToStaged returns a FAILED row to STAGED so the next promotion attempt
// picks it up again.
func (r *PostgresRepository) ResetToStaged(ctx context.Context, id string, retryCount int) error {
	query := `UPDATE staged_uploads
		SET status='STAGED', retry_count=$1, next_retry_at=NULL
		WHERE id=$2`
	return r.execOne(ctx, query, retryCount, id)
}

// ParkFailed clears the retry clock of a row that exhausted its per-file
// retries; it stays FAILED for operator inspection.
func (r *PostgresRepository) ParkFailed(ctx context.Context, id string) error {
	query := `UPDATE staged_uploads SET next_retry_at=NULL WHERE id=$1`
	return r.execOne(ctx, query, id)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM staged_uploads WHERE id=$1`
	return r.execOne(ctx, query, id)
}

func (r *PostgresRepository) DeleteByCar(ctx context.Context, carID string) error {
	query := `DELETE FROM staged_uploads WHERE car_id=$1`
	if _, err := r.db.ExecContext(ctx, query, carID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.StagedUpload, error) {
	u, err := scanStaged(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select staged upload: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) scanAll(rows *sql.Rows) ([]*models.StagedUpload, error) {
	defer rows.Close()
	var result []*models.StagedUpload
	for rows.Next() {
		u, err := scanStaged(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanStaged(scan func(dest ...any) error) (*models.StagedUpload, error) {
	var u models.StagedUpload
	var carID, originalName, contentHash, contentType, lastError sql.NullString
	var nextRetryAt sql.NullTime
	err := scan(&u.ID, &u.StorageKey, &u.ObjectID, &u.OwnerID, &carID, &u.FileName,
		&originalName, &contentHash, &u.Size, &contentType, &u.Status, &u.RetryCount,
		&nextRetryAt, &lastError, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.CarID = carID.String
	u.OriginalName = originalName.String
	u.ContentHash = contentHash.String
	u.ContentType = contentType.String
	u.LastError = lastError.String
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		u.NextRetryAt = &t
	}
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
