package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carselling/uploadpipe/internal/common"
	"github.com/carselling/uploadpipe/internal/dbx"
	"github.com/carselling/uploadpipe/internal/keyx"
	"github.com/carselling/uploadpipe/internal/logging"
	sc "github.com/carselling/uploadpipe/internal/server/config"
	"github.com/carselling/uploadpipe/internal/server/models"
	"github.com/carselling/uploadpipe/internal/server/objectstore"
	"github.com/carselling/uploadpipe/internal/server/repositories/repomanager"
)

// maxErrorLen bounds the failure message persisted on a staged row.
const maxErrorLen = 500

// MediaRetryService drives the background half of the pipeline: promoting
// staged car media into the permanent namespace, retrying with exponential
// backoff, and rescuing batches orphaned by a crashed worker.
type MediaRetryService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       objectstore.Client
	config      *sc.Config
	log         logging.Logger
}

func NewMediaRetryService(db *sql.DB, rm repomanager.RepositoryManager, store objectstore.Client,
	config *sc.Config, log logging.Logger) *MediaRetryService {
	return &MediaRetryService{
		db:          db,
		repomanager: rm,
		store:       store,
		config:      config,
		log:         log,
	}
}

// carBackoff is the car-level retry delay: base doubled per attempt, capped.
func (s *MediaRetryService) carBackoff(attempt int) time.Duration {
	d := s.config.CarRetryBackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.config.CarRetryBackoffCap {
			return s.config.CarRetryBackoffCap
		}
	}
	return d
}

// fileBackoff is the per-file retry delay; the exponent saturates so a row
// that keeps failing does not push its clock out indefinitely.
func (s *MediaRetryService) fileBackoff(retryCount int) time.Duration {
	exp := retryCount - 1
	if exp > 3 {
		exp = 3
	}
	return s.config.FileRetryBackoffBase << exp
}

// ProcessDueCars runs one scan tick: claim each due car and attempt its
// batch. A car another instance claimed first is skipped silently.
func (s *MediaRetryService) ProcessDueCars(ctx context.Context, now time.Time) error {
	carsRepo := s.repomanager.Cars(s.db)

	due, err := carsRepo.SelectDueForRetry(ctx, now, s.config.CarBatchSize)
	if err != nil {
		return err
	}

	for _, car := range due {
		err := carsRepo.Claim(ctx, car.ID, now, now.Add(s.config.ClaimDuration))
		if errors.Is(err, common.ErrNotClaimed) {
			continue
		}
		if err != nil {
			s.log.Error(ctx, "failed to claim car", "car_id", car.ID, "error", err)
			continue
		}
		if err := s.attemptCar(ctx, car, now); err != nil {
			s.log.Error(ctx, "car media attempt failed", "car_id", car.ID, "error", err)
		}
	}
	return nil
}

// RescueStuck re-arms recently created PROCESSING cars that lost their retry
// clock (a worker died between claiming and scheduling). Older rows are left
// alone; resurfacing ancient batches forever helps nobody.
func (s *MediaRetryService) RescueStuck(ctx context.Context, now time.Time) error {
	carsRepo := s.repomanager.Cars(s.db)

	stuck, err := carsRepo.SelectStuck(ctx, now, now.Add(-s.config.RescueWindow))
	if err != nil {
		return err
	}

	for _, car := range stuck {
		if err := carsRepo.InitRetry(ctx, car.ID, now); err != nil {
			s.log.Error(ctx, "failed to rescue car", "car_id", car.ID, "error", err)
			continue
		}
		s.log.Warn(ctx, "rescued orphaned car batch", "car_id", car.ID)
	}
	return nil
}

// ProcessDueFiles handles per-file retry clocks: due FAILED rows go back to
// STAGED for the next batch attempt; rows that exhausted their bound are
// parked for operator inspection.
func (s *MediaRetryService) ProcessDueFiles(ctx context.Context, now time.Time) error {
	stagedRepo := s.repomanager.Staged(s.db)

	due, err := stagedRepo.SelectDueFailed(ctx, now, s.config.FileBatchSize)
	if err != nil {
		return err
	}

	for _, f := range due {
		if f.RetryCount >= s.config.MaxFileRetries {
			if err := stagedRepo.ParkFailed(ctx, f.ID); err != nil {
				s.log.Error(ctx, "failed to park upload", "upload_id", f.ID, "error", err)
			} else {
				s.log.Warn(ctx, "upload exhausted retries",
					"upload_id", f.ID, "storage_key", f.StorageKey, "last_error", f.LastError)
			}
			continue
		}
		if err := stagedRepo.ResetToStaged(ctx, f.ID, f.RetryCount); err != nil {
			s.log.Error(ctx, "failed to reset upload", "upload_id", f.ID, "error", err)
		}
	}
	return nil
}

// attemptCar promotes everything the car has staged and settles the car's
// state: COMPLETE when nothing is left behind, another backoff round while
// failures remain, FAILED once the bound is hit.
func (s *MediaRetryService) attemptCar(ctx context.Context, car *models.Car, now time.Time) error {
	stagedRepo := s.repomanager.Staged(s.db)
	carsRepo := s.repomanager.Cars(s.db)

	// A car attempt retries everything, including files waiting on their own
	// backoff clock.
	failedRows, err := stagedRepo.SelectByCarAndStatus(ctx, car.ID, models.StagedStatusFailed)
	if err != nil {
		return err
	}
	for _, f := range failedRows {
		if err := stagedRepo.ResetToStaged(ctx, f.ID, f.RetryCount); err != nil {
			s.log.Error(ctx, "failed to reset upload for batch", "upload_id", f.ID, "error", err)
		}
	}

	pending, err := stagedRepo.SelectByCarAndStatus(ctx, car.ID, models.StagedStatusStaged)
	if err != nil {
		return err
	}

	// No staged and no failed rows means there is nothing left to retry:
	// the batch is terminally failed right away.
	if len(pending) == 0 && len(failedRows) == 0 {
		if err := carsRepo.MarkFailed(ctx, car.ID); err != nil {
			return err
		}
		s.log.Error(ctx, "car has no media left to promote", "car_id", car.ID)
		return nil
	}

	var coverURL, videoURL string
	failures := 0
	for _, f := range pending {
		url, isVideo, err := s.promoteFile(ctx, car, f, now)
		if err != nil {
			failures++
			continue
		}
		if isVideo {
			if videoURL == "" {
				videoURL = url
			}
		} else if coverURL == "" {
			coverURL = url
		}
	}

	if failures == 0 {
		if err := carsRepo.MarkComplete(ctx, car.ID, coverURL, videoURL); err != nil {
			return err
		}
		s.log.Info(ctx, "car media batch complete",
			"car_id", car.ID, "promoted", len(pending))
		return nil
	}

	attempt := car.RetryCount + 1
	if attempt > s.config.MaxCarRetries {
		if err := carsRepo.MarkFailed(ctx, car.ID); err != nil {
			return err
		}
		s.log.Error(ctx, "car media batch exhausted retries",
			"car_id", car.ID, "failed_files", failures)
		return common.ErrRetriesExhausted
	}

	next := now.Add(s.carBackoff(attempt))
	if err := carsRepo.ScheduleRetry(ctx, car.ID, attempt, next); err != nil {
		return err
	}
	s.log.Warn(ctx, "car media batch rescheduled",
		"car_id", car.ID, "attempt", attempt, "failed_files", failures, "next_retry_at", next)
	return nil
}

// promoteFile moves one staged object into the car's permanent namespace and
// commits it as an asset. On failure the row is marked FAILED with its own
// backoff clock.
func (s *MediaRetryService) promoteFile(ctx context.Context, car *models.Car,
	f *models.StagedUpload, now time.Time) (string, bool, error) {

	dstKey := keyx.PermanentKey(keyx.CarFolder(car.ID), f.ContentType, f.FileName)

	objectID, err := copyWithRecovery(ctx, s.store, s.log, f.StorageKey, dstKey)
	if err != nil {
		s.failFile(ctx, f, now, err)
		return "", false, err
	}
	if objectID == "" {
		objectID = f.ObjectID
	}

	isVideo := strings.HasPrefix(f.ContentType, "video/")
	resourceType := models.ResourceCarImage
	if isVideo {
		resourceType = models.ResourceCarVideo
	}

	asset := &models.CommittedAsset{
		ID:           uuid.NewString(),
		PublicURL:    s.store.PublicURL(dstKey),
		StorageKey:   dstKey,
		ObjectID:     objectID,
		ContentHash:  f.ContentHash,
		Size:         f.Size,
		ContentType:  f.ContentType,
		FileName:     f.FileName,
		OriginalName: f.OriginalName,
		OwnerID:      f.OwnerID,
		ResourceType: resourceType,
		ResourceID:   car.ID,
		Access:       models.AccessFor(resourceType),
		CreatedAt:    now,
	}

	// Asset creation and staged-row removal must land together.
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Assets(tx).Create(ctx, asset); err != nil && !isDuplicate(err) {
			return err
		}
		return s.repomanager.Staged(tx).Delete(ctx, f.ID)
	})
	if err != nil {
		s.failFile(ctx, f, now, err)
		return "", false, err
	}

	discardRedundant(ctx, s.store, s.log, f.StorageKey)

	return asset.PublicURL, isVideo, nil
}

func (s *MediaRetryService) failFile(ctx context.Context, f *models.StagedUpload, now time.Time, cause error) {
	retryCount := f.RetryCount + 1
	next := now.Add(s.fileBackoff(retryCount))
	msg := truncateError(cause, maxErrorLen)

	if err := s.repomanager.Staged(s.db).MarkFailed(ctx, f.ID, retryCount, next, msg); err != nil {
		s.log.Error(ctx, "failed to record upload failure", "upload_id", f.ID, "error", err)
		return
	}
	s.log.Warn(ctx, "staged upload failed",
		"upload_id", f.ID, "storage_key", f.StorageKey, "retry_count", retryCount, "error", msg)
}
