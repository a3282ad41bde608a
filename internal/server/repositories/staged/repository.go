package staged

import (
	"context"
	"time"

	"github.com/carselling/uploadpipe/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, upload *models.StagedUpload) error
	GetByID(ctx context.Context, id string) (*models.StagedUpload, error)
	GetByStorageKey(ctx context.Context, key string) (*models.StagedUpload, error)
	SelectByCarAndStatus(ctx context.Context, carID, status string) ([]*models.StagedUpload, error)
	SelectDueFailed(ctx context.Context, now time.Time, limit int) ([]*models.StagedUpload, error)
	SelectStale(ctx context.Context, cutoff time.Time) ([]*models.StagedUpload, error)
	MarkFailed(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastError string) error
	ResetToStaged(ctx context.Context, id string, retryCount int) error
	ParkFailed(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	DeleteByCar(ctx context.Context, carID string) error
}
