package rundb

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/jswidler/tenantrun/errors"
	"github.com/jswidler/tenantrun/logger"
	migrate "github.com/rubenv/sql-migrate"
)

const dialect = "postgres"

//go:embed migrations/*
var migrationFiles embed.FS

var ErrDbMigrationFailed = errors.Sentinel("database migration failed")

// MigrateUp migrates the job tables to the latest version. Tenant databases are not touched.
func (d *Db) MigrateUp() error {
	logger.Default().Info().Msg("checking job tables are up to date")
	n, err := migrate.Exec(d.db.DB, dialect, getMigrations(), migrate.Up)
	if err != nil {
		return errors.Wrap(ErrDbMigrationFailed, errors.WithCause(err))
	}

	if n > 0 {
		logger.Default().Info().Int("numMigrations", n).Msg("applied job table migrations")
	} else {
		logger.Default().Info().Msg("job tables were up to date")
	}
	return nil
}

// MigrateDown rolls back at most max migrations, 0 for all of them.
func (d *Db) MigrateDown(max int) error {
	n, err := migrate.ExecMax(d.db.DB, dialect, getMigrations(), migrate.Down, max)
	if err != nil {
		return errors.Wrap(ErrDbMigrationFailed, errors.WithCause(err))
	}
	logger.Default().Info().Int("numMigrations", n).Msg("rolled back job table migrations")
	return nil
}

func getMigrations() *migrate.HttpFileSystemMigrationSource {
	fsys, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return &migrate.HttpFileSystemMigrationSource{
		FileSystem: http.FS(fsys),
	}
}
