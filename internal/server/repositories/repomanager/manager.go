package repomanager

import (
	"context"
	"database/sql"

	"github.com/carselling/uploadpipe/internal/dbx"
	"github.com/carselling/uploadpipe/internal/server/repositories/assets"
	"github.com/carselling/uploadpipe/internal/server/repositories/cars"
	"github.com/carselling/uploadpipe/internal/server/repositories/chatmessages"
	"github.com/carselling/uploadpipe/internal/server/repositories/staged"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Staged(db dbx.DBTX) staged.Repository
	Assets(db dbx.DBTX) assets.Repository
	Cars(db dbx.DBTX) cars.Repository
	ChatMessages(db dbx.DBTX) chatmessages.Repository
}
