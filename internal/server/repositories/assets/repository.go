package assets

import (
	"context"
	"time"

	"github.com/carselling/uploadpipe/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, asset *models.CommittedAsset) error
	GetByID(ctx context.Context, id string) (*models.CommittedAsset, error)
	GetByHashAndOwner(ctx context.Context, contentHash, ownerID string) (*models.CommittedAsset, error)
	SelectByResource(ctx context.Context, resourceType models.ResourceType, resourceID string) ([]*models.CommittedAsset, error)
	SelectExpired(ctx context.Context, resourceType models.ResourceType, cutoff time.Time, limit int) ([]*models.CommittedAsset, error)
	Delete(ctx context.Context, id string) error
	DeleteByResource(ctx context.Context, resourceType models.ResourceType, resourceID string) error
}
