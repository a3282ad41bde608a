// Package services implements the upload pipeline: issuing direct-upload
// targets, server-side finalization of completed uploads, the background
// retry machinery and the storage lifecycle sweeps.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carselling/uploadpipe/internal/common"
	"github.com/carselling/uploadpipe/internal/keyx"
	"github.com/carselling/uploadpipe/internal/logging"
	sc "github.com/carselling/uploadpipe/internal/server/config"
	"github.com/carselling/uploadpipe/internal/server/idempotency"
	"github.com/carselling/uploadpipe/internal/server/models"
	"github.com/carselling/uploadpipe/internal/server/objectstore"
	"github.com/carselling/uploadpipe/internal/server/repositories/repomanager"
)

// UploadService owns the client-facing half of the pipeline: handing out
// presigned upload targets and finalizing uploads the client reports done.
type UploadService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       objectstore.Client
	marks       idempotency.Store
	policy      *UploadPolicy
	config      *sc.Config
	log         logging.Logger
	now         func() time.Time
}

func NewUploadService(db *sql.DB, rm repomanager.RepositoryManager, store objectstore.Client,
	marks idempotency.Store, config *sc.Config, log logging.Logger) *UploadService {
	return &UploadService{
		db:          db,
		repomanager: rm,
		store:       store,
		marks:       marks,
		policy:      NewUploadPolicy(config),
		config:      config,
		log:         log,
		now:         time.Now,
	}
}

// InitiateRequest asks for a direct-upload target. Folder is the logical
// destination ("cars/{id}", "chat/{id}", ...); the object always lands in the
// staging namespace first.
type InitiateRequest struct {
	OwnerID      string
	Folder       string
	OriginalName string
	// ContentType is the client's declared type. It is bound into the
	// presigned request but never trusted for commit decisions.
	ContentType string
	// ContentHash, when the client knows it upfront, enables a dedup
	// short-circuit that skips the upload entirely.
	ContentHash string
}

// InitiateResult is either an upload target or, on a dedup hit, the already
// committed asset.
type InitiateResult struct {
	Target   *objectstore.UploadTarget
	FileName string
	Existing *models.CommittedAsset
}

// InitiateUpload issues a one-time presigned target for a staging key. When
// the client declares a content hash the owner already committed, the upload
// is skipped and the existing asset returned instead.
func (s *UploadService) InitiateUpload(ctx context.Context, req *InitiateRequest) (*InitiateResult, error) {
	if req.OwnerID == "" {
		return nil, fmt.Errorf("owner id is required: %w", common.ErrPolicyViolation)
	}

	if req.ContentHash != "" {
		existing, err := s.repomanager.Assets(s.db).GetByHashAndOwner(ctx, req.ContentHash, req.OwnerID)
		if err == nil {
			s.log.Info(ctx, "dedup short-circuit on initiate",
				"owner_id", req.OwnerID, "asset_id", existing.ID)
			return &InitiateResult{Existing: existing, FileName: existing.FileName}, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}

	now := s.now().UTC()
	fileName := keyx.UniqueName(req.OriginalName, req.OwnerID, now)
	folder := keyx.StagingFolder(req.Folder, req.OwnerID)
	key := folder + "/" + fileName

	target, err := s.store.PresignUpload(ctx, key, req.ContentType)
	if err != nil {
		return nil, fmt.Errorf("presign failed: %w", err)
	}

	return &InitiateResult{Target: target, FileName: fileName}, nil
}

// FinalizeRequest reports a finished direct upload. ResourceID is the owning
// entity of ResourceType (car id, chat id); empty for unattached kinds.
type FinalizeRequest struct {
	StorageKey   string
	OwnerID      string
	ResourceType models.ResourceType
	ResourceID   string
	OriginalName string
}

// FinalizeResult is the outcome of one finalization call.
//
// Exactly one of the following holds: Asset is set (committed now or resolved
// to an existing duplicate), or Pending is true (car media queued for the
// background machinery).
type FinalizeResult struct {
	Asset     *models.CommittedAsset
	Pending   bool
	Duplicate bool
}

// stagingPrefixFor returns the staging namespace a finalize request is
// allowed to reference. Keys outside it are rejected: a client must not be
// able to finalize someone else's staged object.
func stagingPrefixFor(req *FinalizeRequest) string {
	switch req.ResourceType {
	case models.ResourceCarImage, models.ResourceCarVideo:
		return keyx.CarStagingPrefix(req.ResourceID)
	case models.ResourceChatAttachment:
		return "temp/chat/"
	default:
		return keyx.StagingPrefix + req.OwnerID + "/"
	}
}

// FinalizeUpload verifies a reported upload against the object store and
// either commits it, resolves it to an existing duplicate, or stages it for
// the car batch machinery.
//
// Every decision is based on server-observed object metadata; nothing the
// client declared survives past the presign step.
func (s *UploadService) FinalizeUpload(ctx context.Context, req *FinalizeRequest) (*FinalizeResult, error) {
	if err := req.ResourceType.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, common.ErrPolicyViolation)
	}
	if req.OwnerID == "" {
		return nil, fmt.Errorf("owner id is required: %w", common.ErrPolicyViolation)
	}
	if !keyx.IsStaging(req.StorageKey) || !strings.HasPrefix(req.StorageKey, stagingPrefixFor(req)) {
		return nil, fmt.Errorf("storage key %q outside caller staging namespace: %w",
			req.StorageKey, common.ErrPolicyViolation)
	}

	now := s.now().UTC()

	info, err := headWithRetry(ctx, s.store, req.StorageKey)
	if err != nil {
		return nil, err
	}

	if err := s.policy.Check(req.ResourceType, info); err != nil {
		return nil, err
	}

	existing, err := s.repomanager.Assets(s.db).GetByHashAndOwner(ctx, info.ContentHash, req.OwnerID)
	if err == nil {
		discardRedundant(ctx, s.store, s.log, req.StorageKey)
		return &FinalizeResult{Asset: existing, Duplicate: true}, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	// Car media is not committed here; the staged row's unique storage key
	// makes re-reporting idempotent, so no finalization mark is needed.
	if req.ResourceType == models.ResourceCarImage || req.ResourceType == models.ResourceCarVideo {
		return s.stageForCar(ctx, req, info, now)
	}

	// The mark suppresses concurrent commits of identical content across
	// instances; the unique index on (content_hash, owner_id) stays the hard
	// guarantee if the mark is lost.
	mark := idempotency.Key(info.ContentHash, req.OwnerID)
	acquired, err := s.marks.Acquire(ctx, mark, s.config.FinalizeMarkTTL)
	if err != nil {
		return nil, fmt.Errorf("finalization mark: %w", err)
	}
	if !acquired {
		existing, err := s.repomanager.Assets(s.db).GetByHashAndOwner(ctx, info.ContentHash, req.OwnerID)
		if err == nil {
			return &FinalizeResult{Asset: existing, Duplicate: true}, nil
		}
		if isNotFound(err) {
			return nil, common.ErrFinalizeInFlight
		}
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			if rerr := s.marks.Release(ctx, mark); rerr != nil {
				s.log.Warn(ctx, "failed to release finalization mark", "key", mark, "error", rerr)
			}
		}
	}()

	asset, err := s.commitDirect(ctx, req, info, now)
	if err != nil {
		return nil, err
	}
	committed = true
	return &FinalizeResult{Asset: asset}, nil
}

// stageForCar records the verified upload as a staged row and flips the car
// into PROCESSING so the next scan picks the batch up. Finalizing the same
// key twice is a no-op.
func (s *UploadService) stageForCar(ctx context.Context, req *FinalizeRequest,
	info *objectstore.ObjectInfo, now time.Time) (*FinalizeResult, error) {

	stagedRepo := s.repomanager.Staged(s.db)

	if _, err := stagedRepo.GetByStorageKey(ctx, req.StorageKey); err == nil {
		return &FinalizeResult{Pending: true}, nil
	} else if !isNotFound(err) {
		return nil, err
	}

	upload := &models.StagedUpload{
		ID:           uuid.NewString(),
		StorageKey:   req.StorageKey,
		ObjectID:     info.ObjectID,
		OwnerID:      req.OwnerID,
		CarID:        req.ResourceID,
		FileName:     baseName(req.StorageKey),
		OriginalName: keyx.SanitizeName(req.OriginalName),
		ContentHash:  info.ContentHash,
		Size:         info.Size,
		ContentType:  info.ContentType,
		Status:       models.StagedStatusStaged,
		CreatedAt:    now,
	}
	if err := stagedRepo.Create(ctx, upload); err != nil {
		return nil, err
	}

	if err := s.repomanager.Cars(s.db).SetProcessing(ctx, req.ResourceID, now); err != nil {
		return nil, fmt.Errorf("failed to queue car %s: %w", req.ResourceID, err)
	}

	s.log.Info(ctx, "upload staged for car batch",
		"car_id", req.ResourceID, "storage_key", req.StorageKey, "size", info.Size)
	return &FinalizeResult{Pending: true}, nil
}

// commitDirect promotes a non-car upload synchronously: copy out of staging,
// record the asset, drop the staged object.
func (s *UploadService) commitDirect(ctx context.Context, req *FinalizeRequest,
	info *objectstore.ObjectInfo, now time.Time) (*models.CommittedAsset, error) {

	fileName := baseName(req.StorageKey)
	dstKey := permanentFolderFor(req, now) + "/" + fileName

	objectID, err := copyWithRecovery(ctx, s.store, s.log, req.StorageKey, dstKey)
	if err != nil {
		return nil, err
	}
	if objectID == "" {
		objectID = info.ObjectID
	}

	asset := &models.CommittedAsset{
		ID:           uuid.NewString(),
		PublicURL:    s.store.PublicURL(dstKey),
		StorageKey:   dstKey,
		ObjectID:     objectID,
		ContentHash:  info.ContentHash,
		Size:         info.Size,
		ContentType:  info.ContentType,
		FileName:     fileName,
		OriginalName: keyx.SanitizeName(req.OriginalName),
		OwnerID:      req.OwnerID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Access:       models.AccessFor(req.ResourceType),
		CreatedAt:    now,
	}

	if err := s.repomanager.Assets(s.db).Create(ctx, asset); err != nil {
		if isDuplicate(err) {
			// Lost the commit race. The other record wins; our copy is noise.
			discardRedundant(ctx, s.store, s.log, dstKey)
			discardRedundant(ctx, s.store, s.log, req.StorageKey)
			return s.repomanager.Assets(s.db).GetByHashAndOwner(ctx, info.ContentHash, req.OwnerID)
		}
		return nil, err
	}

	discardRedundant(ctx, s.store, s.log, req.StorageKey)

	s.log.Info(ctx, "upload committed",
		"asset_id", asset.ID, "storage_key", dstKey, "resource_type", string(req.ResourceType))
	return asset, nil
}

// permanentFolderFor maps a finalize request to its committed namespace.
func permanentFolderFor(req *FinalizeRequest, now time.Time) string {
	switch req.ResourceType {
	case models.ResourceChatAttachment:
		return keyx.ChatFolder(req.ResourceID, now)
	case models.ResourceUserAvatar:
		return "users/" + req.OwnerID + "/avatar"
	case models.ResourceBackup:
		return "backups/" + req.OwnerID
	default:
		return "files/" + req.OwnerID
	}
}

func baseName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}
