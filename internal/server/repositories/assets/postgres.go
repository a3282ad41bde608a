// Package assets persists CommittedAsset rows, the durable business-visible
// file records. The (content_hash, owner_id) unique index is what makes
// content-addressed dedup a commit-time guarantee rather than advice.
package assets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carselling/uploadpipe/internal/common"
	"github.com/carselling/uploadpipe/internal/dbx"
	"github.com/carselling/uploadpipe/internal/server/models"
)

// PostgresRepository implements asset storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const assetColumns = `id, public_url, storage_key, object_id, content_hash, size, content_type,
		file_name, original_name, owner_id, resource_type, resource_id, access_type, created_at`

// Create inserts a committed asset. When the (content_hash, owner_id) unique
// index fires it returns common.ErrDuplicateAsset so the caller can resolve
// to the existing record.
func (r *PostgresRepository) Create(ctx context.Context, a *models.CommittedAsset) error {
	query := `
		INSERT INTO committed_assets (` + assetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.PublicURL, a.StorageKey, a.ObjectID, a.ContentHash, a.Size,
		nullString(a.ContentType), a.FileName, nullString(a.OriginalName), a.OwnerID,
		string(a.ResourceType), nullString(a.ResourceID), string(a.Access), a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return common.ErrDuplicateAsset
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.CommittedAsset, error) {
	query := `SELECT ` + assetColumns + ` FROM committed_assets WHERE id=$1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByHashAndOwner is the content-addressed dedup lookup.
func (r *PostgresRepository) GetByHashAndOwner(ctx context.Context, contentHash, ownerID string) (*models.CommittedAsset, error) {
	query := `SELECT ` + assetColumns + ` FROM committed_assets
		WHERE content_hash=$1 AND owner_id=$2`
	return r.scanOne(r.db.QueryRowContext(ctx, query, contentHash, ownerID))
}

func (r *PostgresRepository) SelectByResource(ctx context.Context, resourceType models.ResourceType, resourceID string) ([]*models.CommittedAsset, error) {
	query := `SELECT ` + assetColumns + ` FROM committed_assets
		WHERE resource_type=$1 AND resource_id=$2 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, string(resourceType), resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to select assets: %w", err)
	}
	return r.scanAll(rows)
}

// SelectExpired returns assets of one resource type past the retention
// cutoff, oldest first, bounded per sweep.
func (r *PostgresRepository) SelectExpired(ctx context.Context, resourceType models.ResourceType, cutoff time.Time, limit int) ([]*models.CommittedAsset, error) {
	query := `SELECT ` + assetColumns + ` FROM committed_assets
		WHERE resource_type=$1 AND created_at < $2 ORDER BY created_at ASC LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, string(resourceType), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select expired assets: %w", err)
	}
	return r.scanAll(rows)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM committed_assets WHERE id=$1`
	res, err := r.db.ExecContext(ctx, query, id)
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

func (r *PostgresRepository) DeleteByResource(ctx context.Context, resourceType models.ResourceType, resourceID string) error {
	query := `DELETE FROM committed_assets WHERE resource_type=$1 AND resource_id=$2`
	if _, err := r.db.ExecContext(ctx, query, string(resourceType), resourceID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.CommittedAsset, error) {
	a, err := scanAsset(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select asset: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) scanAll(rows *sql.Rows) ([]*models.CommittedAsset, error) {
	defer rows.Close()
	var result []*models.CommittedAsset
	for rows.Next() {
		a, err := scanAsset(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanAsset(scan func(dest ...any) error) (*models.CommittedAsset, error) {
	var a models.CommittedAsset
	var contentType, originalName, resourceID sql.NullString
	var resourceType, access string
	err := scan(&a.ID, &a.PublicURL, &a.StorageKey, &a.ObjectID, &a.ContentHash, &a.Size,
		&contentType, &a.FileName, &originalName, &a.OwnerID, &resourceType, &resourceID,
		&access, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.ContentType = contentType.String
	a.OriginalName = originalName.String
	a.ResourceType = models.ResourceType(resourceType)
	a.ResourceID = resourceID.String
	a.Access = models.AccessType(access)
	return &a, nil
}

// isUniqueViolation matches the Postgres unique_violation code and the
// sqlite wording used by the in-memory test database.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
