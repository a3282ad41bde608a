package cars

import (
	"context"
	"time"

	"github.com/carselling/uploadpipe/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, car *models.Car) error
	GetByID(ctx context.Context, id string) (*models.Car, error)
	SelectDueForRetry(ctx context.Context, now time.Time, limit int) ([]*models.Car, error)
	SelectStuck(ctx context.Context, now time.Time, createdAfter time.Time) ([]*models.Car, error)
	Claim(ctx context.Context, id string, now, until time.Time) error
	ScheduleRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time) error
	InitRetry(ctx context.Context, id string, now time.Time) error
	MarkComplete(ctx context.Context, id, coverURL, videoURL string) error
	MarkFailed(ctx context.Context, id string) error
	SetProcessing(ctx context.Context, id string, nextRetryAt time.Time) error
}
