package chatmessages

import (
	"context"

	"github.com/carselling/uploadpipe/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, msg *models.ChatMessage) error
	GetByID(ctx context.Context, id string) (*models.ChatMessage, error)
	ClearAttachmentByURL(ctx context.Context, attachmentURL, placeholder string) (int64, error)
}
