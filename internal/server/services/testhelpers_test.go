package services

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/carselling/uploadpipe/internal/common"
	"github.com/carselling/uploadpipe/internal/logging"
	sc "github.com/carselling/uploadpipe/internal/server/config"
	"github.com/carselling/uploadpipe/internal/server/objectstore"
	"github.com/carselling/uploadpipe/internal/server/repositories/repomanager"
)

// Schema for the in-memory test database, matching the migrations.
const testSchema = `
CREATE TABLE staged_uploads (
    id            TEXT PRIMARY KEY,
    storage_key   TEXT NOT NULL UNIQUE,
    object_id     TEXT NOT NULL,
    owner_id      TEXT NOT NULL,
    car_id        TEXT,
    file_name     TEXT NOT NULL,
    original_name TEXT,
    content_hash  TEXT,
    size          BIGINT NOT NULL DEFAULT 0,
    content_type  TEXT,
    status        TEXT NOT NULL DEFAULT 'STAGED',
    retry_count   INTEGER NOT NULL DEFAULT 0,
    next_retry_at TIMESTAMP,
    last_error    TEXT,
    created_at    TIMESTAMP NOT NULL
);
CREATE TABLE committed_assets (
    id            TEXT PRIMARY KEY,
    public_url    TEXT NOT NULL,
    storage_key   TEXT NOT NULL,
    object_id     TEXT NOT NULL,
    content_hash  TEXT NOT NULL,
    size          BIGINT NOT NULL DEFAULT 0,
    content_type  TEXT,
    file_name     TEXT NOT NULL,
    original_name TEXT,
    owner_id      TEXT NOT NULL,
    resource_type TEXT NOT NULL,
    resource_id   TEXT,
    access_type   TEXT NOT NULL DEFAULT 'PUBLIC',
    created_at    TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX uq_committed_assets_hash_owner ON committed_assets (content_hash, owner_id);
CREATE TABLE cars (
    id               TEXT PRIMARY KEY,
    owner_id         TEXT NOT NULL,
    media_status     TEXT NOT NULL DEFAULT 'INIT',
    retry_count      INTEGER NOT NULL DEFAULT 0,
    next_retry_at    TIMESTAMP,
    media_claim_until TIMESTAMP,
    cover_url        TEXT,
    video_url        TEXT,
    created_at       TIMESTAMP NOT NULL
);
CREATE TABLE chat_messages (
    id              TEXT PRIMARY KEY,
    chat_id         TEXT NOT NULL,
    sender_id       TEXT NOT NULL,
    content         TEXT,
    attachment_url  TEXT,
    attachment_name TEXT,
    attachment_size BIGINT,
    created_at      TIMESTAMP NOT NULL
);
`

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	return db
}

func newTestLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.DiscardHandler))
}

func newTestConfig() *sc.Config {
	cfg := &sc.Config{}
	cfg.LoadDefaults()
	return cfg
}

func newTestManager() repomanager.RepositoryManager {
	return &repomanager.PostgresRepositoryManager{}
}

// testTime returns a whole-second UTC time; sub-second precision only makes
// string-time comparisons in sqlite flaky.
func testTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts.UTC()
}

// fakeStore is an in-memory objectstore.Client with per-key failure hooks.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string]objectstore.ObjectInfo

	copyErr   error
	deleteErr map[string]error
	headErr   error

	deleted  []string
	prefixes []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects:   make(map[string]objectstore.ObjectInfo),
		deleteErr: make(map[string]error),
	}
}

func (f *fakeStore) put(key string, info objectstore.ObjectInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = info
}

func (f *fakeStore) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func (f *fakeStore) PresignUpload(_ context.Context, key, _ string) (*objectstore.UploadTarget, error) {
	return &objectstore.UploadTarget{
		URL: "https://store.test/upload/" + key,
		Key: key,
	}, nil
}

func (f *fakeStore) Head(_ context.Context, key string) (*objectstore.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headErr != nil {
		return nil, f.headErr
	}
	info, ok := f.objects[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &info, nil
}

func (f *fakeStore) Copy(_ context.Context, srcKey, dstKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.copyErr != nil {
		return "", f.copyErr
	}
	src, ok := f.objects[srcKey]
	if !ok {
		return "", common.ErrorNotFound
	}
	dst := src
	dst.ObjectID = src.ObjectID + "-copy"
	f.objects[dstKey] = dst
	return dst.ObjectID, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[key]; err != nil {
		return err
	}
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStore) DeleteByPrefix(_ context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			delete(f.objects, key)
		}
	}
	f.prefixes = append(f.prefixes, prefix)
	return nil
}

func (f *fakeStore) PublicURL(key string) string {
	return "https://cdn.test/" + key
}

var errStoreDown = errors.New("store down")
