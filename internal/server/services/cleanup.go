package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/carselling/uploadpipe/internal/keyx"
	"github.com/carselling/uploadpipe/internal/logging"
	sc "github.com/carselling/uploadpipe/internal/server/config"
	"github.com/carselling/uploadpipe/internal/server/models"
	"github.com/carselling/uploadpipe/internal/server/objectstore"
	"github.com/carselling/uploadpipe/internal/server/repositories/repomanager"
)

// CleanupService owns the storage lifecycle sweeps: reaping abandoned staged
// uploads, enforcing retention on expiring asset kinds, and purging all media
// of a removed car.
type CleanupService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       objectstore.Client
	config      *sc.Config
	log         logging.Logger
}

func NewCleanupService(db *sql.DB, rm repomanager.RepositoryManager, store objectstore.Client,
	config *sc.Config, log logging.Logger) *CleanupService {
	return &CleanupService{
		db:          db,
		repomanager: rm,
		store:       store,
		config:      config,
		log:         log,
	}
}

// ReapStaleUploads removes staged uploads nobody finalized within the
// staleness window, object first. A row whose object refuses to go away is
// kept so the next sweep tries again.
func (s *CleanupService) ReapStaleUploads(ctx context.Context, now time.Time) error {
	stagedRepo := s.repomanager.Staged(s.db)

	stale, err := stagedRepo.SelectStale(ctx, now.Add(-s.config.StaleUploadAge))
	if err != nil {
		return err
	}

	reaped := 0
	for _, u := range stale {
		if err := s.store.Delete(ctx, u.StorageKey); err != nil {
			s.log.Warn(ctx, "failed to delete stale object, keeping row",
				"storage_key", u.StorageKey, "error", err)
			continue
		}
		if err := stagedRepo.Delete(ctx, u.ID); err != nil {
			s.log.Error(ctx, "failed to delete stale upload row", "upload_id", u.ID, "error", err)
			continue
		}
		reaped++
	}

	if reaped > 0 {
		s.log.Info(ctx, "reaped stale uploads", "count", reaped, "scanned", len(stale))
	}
	return nil
}

// EnforceRetention expires chat attachments past the retention window. Every
// referencing message is rewritten to a placeholder before the asset and its
// object go away, so no message is left pointing at a dead URL.
func (s *CleanupService) EnforceRetention(ctx context.Context, now time.Time) error {
	assetsRepo := s.repomanager.Assets(s.db)
	messagesRepo := s.repomanager.ChatMessages(s.db)

	cutoff := now.Add(-s.config.ChatRetentionAge)
	expired, err := assetsRepo.SelectExpired(ctx, models.ResourceChatAttachment, cutoff, s.config.RetentionBatchSize)
	if err != nil {
		return err
	}

	removed := 0
	for _, a := range expired {
		cleared, err := messagesRepo.ClearAttachmentByURL(ctx, a.PublicURL, models.ExpiredMediaPlaceholder)
		if err != nil {
			s.log.Error(ctx, "failed to clear message attachments",
				"asset_id", a.ID, "error", err)
			continue
		}

		if err := s.store.Delete(ctx, a.StorageKey); err != nil {
			// Keep the row: the sweep retries tomorrow, and the cleared
			// messages stay cleared.
			s.log.Warn(ctx, "failed to delete expired object, keeping row",
				"storage_key", a.StorageKey, "error", err)
			continue
		}

		if err := assetsRepo.Delete(ctx, a.ID); err != nil {
			s.log.Error(ctx, "failed to delete expired asset row", "asset_id", a.ID, "error", err)
			continue
		}
		removed++
		if cleared > 0 {
			s.log.Info(ctx, "expired chat attachment",
				"asset_id", a.ID, "messages_cleared", cleared)
		}
	}

	if removed > 0 {
		s.log.Info(ctx, "retention sweep finished", "removed", removed, "scanned", len(expired))
	}
	return nil
}

// PurgeCarMedia removes everything a car ever uploaded: committed assets,
// staged leftovers, and both storage namespaces.
func (s *CleanupService) PurgeCarMedia(ctx context.Context, carID string) error {
	assetsRepo := s.repomanager.Assets(s.db)
	stagedRepo := s.repomanager.Staged(s.db)

	if err := assetsRepo.DeleteByResource(ctx, models.ResourceCarImage, carID); err != nil {
		return err
	}
	if err := assetsRepo.DeleteByResource(ctx, models.ResourceCarVideo, carID); err != nil {
		return err
	}
	if err := stagedRepo.DeleteByCar(ctx, carID); err != nil {
		return err
	}

	if err := s.store.DeleteByPrefix(ctx, keyx.CarFolder(carID)+"/"); err != nil {
		return err
	}
	if err := s.store.DeleteByPrefix(ctx, keyx.CarStagingPrefix(carID)); err != nil {
		return err
	}

	s.log.Info(ctx, "purged car media", "car_id", carID)
	return nil
}
