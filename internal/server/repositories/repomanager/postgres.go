// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/carselling/uploadpipe/internal/dbx"
	"github.com/carselling/uploadpipe/internal/server/migrations"
	"github.com/carselling/uploadpipe/internal/server/repositories/assets"
	"github.com/carselling/uploadpipe/internal/server/repositories/cars"
	"github.com/carselling/uploadpipe/internal/server/repositories/chatmessages"
	"github.com/carselling/uploadpipe/internal/server/repositories/staged"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

// Staged returns a staged.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Staged(db dbx.DBTX) staged.Repository {
	return staged.NewPostgresRepository(db)
}

// Assets returns an assets.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Assets(db dbx.DBTX) assets.Repository {
	return assets.NewPostgresRepository(db)
}

// Cars returns a cars.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Cars(db dbx.DBTX) cars.Repository {
	return cars.NewPostgresRepository(db)
}

// ChatMessages returns a chatmessages.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) ChatMessages(db dbx.DBTX) chatmessages.Repository {
	return chatmessages.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetDialect("pgx")
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager(db *sql.DB) (RepositoryManager, error) {
	return &PostgresRepositoryManager{}, nil
}
