// Package cars owns the media-retry columns of the car parent entity:
// media_status, retry_count, next_retry_at and the per-tick claim marker.
package cars

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

// PostgresRepository implements car media-state storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const carColumns = `id, owner_id, media_status, retry_count, next_retry_at, media_claim_until,
		cover_url, video_url, created_at`

func (r *PostgresRepository) Create(ctx context.Context, c *models.Car) error {
	query := `
		INSERT INTO cars (` + carColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.OwnerID, c.MediaStatus, c.RetryCount, nullTime(c.NextRetryAt),
		nullTime(c.ClaimUntil), nullString(c.CoverURL), nullString(c.VideoURL), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Car, error) {
	query := `SELECT ` + carColumns + ` FROM cars WHERE id=$1`
	c, err := scanCar(r.db.QueryRowContext(ctx, query, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select car: %w", err)
	}
	return c, nil
}

// SelectDueForRetry returns PROCESSING cars whose retry clock has come due,
// oldest-due first, bounded per tick.
func (r *PostgresRepository) SelectDueForRetry(ctx context.Context, now time.Time, limit int) ([]*models.Car, error) {
	query := `SELECT ` + carColumns + ` FROM cars
		WHERE media_status='PROCESSING' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		ORDER BY next_retry_at ASC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select due cars: %w", err)
	}
	return r.scanAll(rows)
}

// SelectStuck finds crash orphans: PROCESSING rows with no retry clock whose
// claim (if any) has expired. Bounded to recently created cars so ancient
// rows do not resurface forever.
func (r *PostgresRepository) SelectStuck(ctx context.Context, now time.Time, createdAfter time.Time) ([]*models.Car, error) {
	query := `SELECT ` + carColumns + ` FROM cars
		WHERE media_status='PROCESSING' AND next_retry_at IS NULL
			AND (media_claim_until IS NULL OR media_claim_until <= $1)
			AND created_at > $2`
	rows, err := r.db.QueryContext(ctx, query, now, createdAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to select stuck cars: %w", err)
	}
	return r.scanAll(rows)
}

// Claim marks the row as owned by this worker until the deadline. The
// conditional update means exactly one of several concurrent instances wins;
// the losers get common.ErrNotClaimed.
func (r *PostgresRepository) Claim(ctx context.Context, id string, now, until time.Time) error {
	query := `UPDATE cars SET media_claim_until=$1
		WHERE id=$2 AND media_status='PROCESSING'
			AND (media_claim_until IS NULL OR media_claim_until <= $3)`
	res, err := r.db.ExecContext(ctx, query, until, id, now)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotClaimed
	}
	return nil
}

// ScheduleRetry records a failed attempt and the next due time; the car
// stays PROCESSING and the claim is released.
func (r *PostgresRepository) ScheduleRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time) error {
	query := `UPDATE cars
		SET retry_count=$1, next_retry_at=$2, media_claim_until=NULL
		WHERE id=$3`
	return r.execOne(ctx, query, retryCount, nextRetryAt, id)
}

// InitRetry re-initializes the retry clock of a rescued orphan to due-now.
func (r *PostgresRepository) InitRetry(ctx context.Context, id string, now time.Time) error {
	query := `UPDATE cars
		SET retry_count=0, next_retry_at=$1, media_claim_until=NULL
		WHERE id=$2`
	return r.execOne(ctx, query, now, id)
}

// MarkComplete is the success terminal state. Cover and video URLs are only
// overwritten when non-empty.
func (r *PostgresRepository) MarkComplete(ctx context.Context, id, coverURL, videoURL string) error {
	query := `UPDATE cars
		SET media_status='COMPLETE', next_retry_at=NULL, media_claim_until=NULL,
			cover_url=COALESCE(NULLIF($1,''), cover_url),
			video_url=COALESCE(NULLIF($2,''), video_url)
		WHERE id=$3`
	return r.execOne(ctx, query, coverURL, videoURL, id)
}

// MarkFailed is the exhausted-retries terminal state; operator intervention
// is required from here.
func (r *PostgresRepository) MarkFailed(ctx context.Context, id string) error {
	query := `UPDATE cars
		SET media_status='FAILED', next_retry_at=NULL, media_claim_until=NULL
		WHERE id=$1`
	return r.execOne(ctx, query, id)
}

// SetProcessing moves a car into the retrying state with an explicit due
// time; used when a media batch is handed to the background machine.
func (r *PostgresRepository) SetProcessing(ctx context.Context, id string, nextRetryAt time.Time) error {
	query := `UPDATE cars
		SET media_status='PROCESSING', retry_count=0, next_retry_at=$1
		WHERE id=$2`
	return r.execOne(ctx, query, nextRetryAt, id)
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

func (r *PostgresRepository) scanAll(rows *sql.Rows) ([]*models.Car, error) {
	defer rows.Close()
	var result []*models.Car
	for rows.Next() {
		c, err := scanCar(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanCar(scan func(dest ...any) error) (*models.Car, error) {
	var c models.Car
	var nextRetryAt, claimUntil sql.NullTime
	var coverURL, videoURL sql.NullString
	err := scan(&c.ID, &c.OwnerID, &c.MediaStatus, &c.RetryCount, &nextRetryAt, &claimUntil,
		&coverURL, &videoURL, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		c.NextRetryAt = &t
	}
	if claimUntil.Valid {
		t := claimUntil.Time
		c.ClaimUntil = &t
	}
	c.CoverURL = coverURL.String
	c.VideoURL = videoURL.String
	return &c, nil
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
