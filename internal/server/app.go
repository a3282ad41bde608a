// Package server initializes and runs the upload pipeline server.
// It opens the database and object storage backends, runs migrations,
// wires the services to the scheduler and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/carselling/uploadpipe/internal/logging"
	"github.com/carselling/uploadpipe/internal/server/config"
	"github.com/carselling/uploadpipe/internal/server/idempotency"
	"github.com/carselling/uploadpipe/internal/server/objectstore"
	"github.com/carselling/uploadpipe/internal/server/repositories/repomanager"
	"github.com/carselling/uploadpipe/internal/server/scheduler"
	"github.com/carselling/uploadpipe/internal/server/services"
)

type App struct {
	config        *config.Config
	logger        logging.Logger
	db            *sql.DB
	marks         idempotency.Store
	uploadService *services.UploadService
	scheduler     *scheduler.Scheduler
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm, err := repomanager.NewPostgresRepositoryManager(db)
	if err != nil {
		return nil, fmt.Errorf("repository init error: %w", err)
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	store, err := objectstore.NewS3Client(ctx, objectstore.Config{
		RootUser:      c.S3RootUser,
		RootPassword:  c.S3RootPassword,
		Bucket:        c.S3Bucket,
		Region:        c.S3Region,
		BaseEndpoint:  c.S3BaseEndpoint,
		CDNDomain:     c.CDNDomain,
		PresignExpiry: c.PresignExpiry,
	})
	if err != nil {
		return nil, fmt.Errorf("object storage init error: %w", err)
	}

	var marks idempotency.Store
	if c.RedisURL != "" {
		marks, err = idempotency.NewRedisStore(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis init error: %w", err)
		}
	} else {
		logger.Warn(ctx, "no redis configured, finalization marks are process-local")
		marks = idempotency.NewMemoryStore()
	}

	uploads := services.NewUploadService(db, rm, store, marks, c, logger)
	retries := services.NewMediaRetryService(db, rm, store, c, logger)
	cleanup := services.NewCleanupService(db, rm, store, c, logger)

	sched := scheduler.New(retries, cleanup, c, logger)

	return &App{
		config:        c,
		logger:        logger,
		db:            db,
		marks:         marks,
		uploadService: uploads,
		scheduler:     sched,
	}, nil
}

// Uploads exposes the client-facing service for whatever transport the
// deployment mounts on top.
func (app *App) Uploads() *services.UploadService {
	return app.uploadService
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if err := app.scheduler.Start(ctx); err != nil {
		app.logger.Error(ctx, "scheduler start failed", "error", err)
		return
	}

	<-ctx.Done()

	app.logger.Info(ctx, "Stopping app...")

	// let running jobs finish before closing their backends
	<-app.scheduler.Stop().Done()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close failed", "error", err)
	}
}
