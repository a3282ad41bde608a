package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carselling/uploadpipe/internal/common"
	"github.com/carselling/uploadpipe/internal/server/models"
	"github.com/carselling/uploadpipe/internal/server/objectstore"
)

func newCleanupService(t *testing.T, store *fakeStore) (*CleanupService, *sql.DB) {
	t.Helper()
	db := newTestDB(t)
	svc := NewCleanupService(db, newTestManager(), store, newTestConfig(), newTestLogger())
	return svc, db
}

func stageUpload(t *testing.T, svc *CleanupService, store *fakeStore, id, key string, created time.Time) {
	t.Helper()
	store.put(key, objectstore.ObjectInfo{
		ObjectID: "e-" + id, ContentHash: "h-" + id, Size: 10, ContentType: "image/jpeg",
	})
	require.NoError(t, svc.repomanager.Staged(svc.db).Create(context.Background(), &models.StagedUpload{
		ID:         id,
		StorageKey: key,
		ObjectID:   "e-" + id,
		OwnerID:    "u1",
		FileName:   id + ".jpg",
		Size:       10,
		Status:     models.StagedStatusStaged,
		CreatedAt:  created,
	}))
}

func TestReapStaleUploads(t *testing.T) {
	store := newFakeStore()
	svc, _ := newCleanupService(t, store)
	ctx := context.Background()
	now := testTime(t, "2025-06-03T12:00:00Z")

	// 49h old: past the 48h window
	stageUpload(t, svc, store, "old", "temp/u1/old.jpg", now.Add(-49*time.Hour))
	// 47h old: still inside it
	stageUpload(t, svc, store, "young", "temp/u1/young.jpg", now.Add(-47*time.Hour))

	require.NoError(t, svc.ReapStaleUploads(ctx, now))

	assert.False(t, store.has("temp/u1/old.jpg"))
	assert.True(t, store.has("temp/u1/young.jpg"))

	_, err := svc.repomanager.Staged(svc.db).GetByID(ctx, "old")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = svc.repomanager.Staged(svc.db).GetByID(ctx, "young")
	assert.NoError(t, err)
}

func TestReapStaleUploads_StorageFailureKeepsRow(t *testing.T) {
	store := newFakeStore()
	svc, _ := newCleanupService(t, store)
	ctx := context.Background()
	now := testTime(t, "2025-06-03T12:00:00Z")

	stageUpload(t, svc, store, "old", "temp/u1/old.jpg", now.Add(-49*time.Hour))
	store.deleteErr["temp/u1/old.jpg"] = errStoreDown

	require.NoError(t, svc.ReapStaleUploads(ctx, now))

	// the row survives so the next sweep retries the object
	_, err := svc.repomanager.Staged(svc.db).GetByID(ctx, "old")
	assert.NoError(t, err)
}

func expiredChatAsset(t *testing.T, svc *CleanupService, store *fakeStore, id string, created time.Time) *models.CommittedAsset {
	t.Helper()
	key := "chat/chat9/2025/01/" + id + ".pdf"
	store.put(key, objectstore.ObjectInfo{
		ObjectID: "e-" + id, ContentHash: "h-" + id, Size: 10, ContentType: "application/pdf",
	})
	a := &models.CommittedAsset{
		ID:           id,
		PublicURL:    "https://cdn.test/" + key,
		StorageKey:   key,
		ObjectID:     "e-" + id,
		ContentHash:  "h-" + id,
		Size:         10,
		ContentType:  "application/pdf",
		FileName:     id + ".pdf",
		OwnerID:      "u1",
		ResourceType: models.ResourceChatAttachment,
		ResourceID:   "chat9",
		Access:       models.AccessPrivate,
		CreatedAt:    created,
	}
	require.NoError(t, svc.repomanager.Assets(svc.db).Create(context.Background(), a))
	return a
}

func TestEnforceRetention_CascadesToMessages(t *testing.T) {
	store := newFakeStore()
	svc, _ := newCleanupService(t, store)
	ctx := context.Background()
	now := testTime(t, "2025-06-01T12:00:00Z")

	old := now.Add(-svc.config.ChatRetentionAge - time.Hour)
	a := expiredChatAsset(t, svc, store, "exp", old)

	messagesRepo := svc.repomanager.ChatMessages(svc.db)
	require.NoError(t, messagesRepo.Create(ctx, &models.ChatMessage{
		ID: "m1", ChatID: "chat9", SenderID: "u1", Content: "here you go",
		AttachmentURL: a.PublicURL, AttachmentName: "exp.pdf", AttachmentSize: 10,
		CreatedAt: old,
	}))

	// recent asset stays
	fresh := expiredChatAsset(t, svc, store, "fresh", now.Add(-time.Hour))

	require.NoError(t, svc.EnforceRetention(ctx, now))

	m, err := messagesRepo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.ExpiredMediaPlaceholder, m.Content)
	assert.Empty(t, m.AttachmentURL)
	assert.Empty(t, m.AttachmentName)
	assert.Zero(t, m.AttachmentSize)

	_, err = svc.repomanager.Assets(svc.db).GetByID(ctx, "exp")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.False(t, store.has(a.StorageKey))

	_, err = svc.repomanager.Assets(svc.db).GetByID(ctx, "fresh")
	assert.NoError(t, err)
	assert.True(t, store.has(fresh.StorageKey))
}

func TestEnforceRetention_StorageFailureKeepsRow(t *testing.T) {
	store := newFakeStore()
	svc, _ := newCleanupService(t, store)
	ctx := context.Background()
	now := testTime(t, "2025-06-01T12:00:00Z")

	old := now.Add(-svc.config.ChatRetentionAge - time.Hour)
	a := expiredChatAsset(t, svc, store, "exp", old)
	store.deleteErr[a.StorageKey] = errStoreDown

	require.NoError(t, svc.EnforceRetention(ctx, now))

	_, err := svc.repomanager.Assets(svc.db).GetByID(ctx, "exp")
	assert.NoError(t, err)
}

func TestPurgeCarMedia(t *testing.T) {
	store := newFakeStore()
	svc, _ := newCleanupService(t, store)
	ctx := context.Background()
	now := testTime(t, "2025-06-01T12:00:00Z")

	store.put("cars/c1/images/a.jpg", objectstore.ObjectInfo{ObjectID: "e1"})
	store.put("temp/cars/c1/images/b.jpg", objectstore.ObjectInfo{ObjectID: "e2"})
	store.put("cars/c2/images/other.jpg", objectstore.ObjectInfo{ObjectID: "e3"})

	require.NoError(t, svc.repomanager.Assets(svc.db).Create(ctx, &models.CommittedAsset{
		ID: "a1", PublicURL: "https://cdn.test/cars/c1/images/a.jpg",
		StorageKey: "cars/c1/images/a.jpg", ObjectID: "e1", ContentHash: "h1",
		FileName: "a.jpg", OwnerID: "u1",
		ResourceType: models.ResourceCarImage, ResourceID: "c1",
		Access: models.AccessPublic, CreatedAt: now,
	}))
	require.NoError(t, svc.repomanager.Staged(svc.db).Create(ctx, &models.StagedUpload{
		ID: "s1", StorageKey: "temp/cars/c1/images/b.jpg", ObjectID: "e2",
		OwnerID: "u1", CarID: "c1", FileName: "b.jpg",
		Status: models.StagedStatusStaged, CreatedAt: now,
	}))

	require.NoError(t, svc.PurgeCarMedia(ctx, "c1"))

	assets, err := svc.repomanager.Assets(svc.db).SelectByResource(ctx, models.ResourceCarImage, "c1")
	require.NoError(t, err)
	assert.Empty(t, assets)

	staged, err := svc.repomanager.Staged(svc.db).SelectByCarAndStatus(ctx, "c1", models.StagedStatusStaged)
	require.NoError(t, err)
	assert.Empty(t, staged)

	assert.False(t, store.has("cars/c1/images/a.jpg"))
	assert.False(t, store.has("temp/cars/c1/images/b.jpg"))
	assert.True(t, store.has("cars/c2/images/other.jpg"))
	assert.Contains(t, store.prefixes, "cars/c1/")
	assert.Contains(t, store.prefixes, "temp/cars/c1/")
}
