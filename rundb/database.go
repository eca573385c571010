// Package rundb stores jobs and triggers for the job service in the central (non-tenant)
// database. Each row carries a metadata column; the dispatching tenant travels there.
package rundb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jmoiron/sqlx"
	"github.com/jswidler/tenantrun/errors"
	"github.com/jswidler/tenantrun/logger"
	_ "github.com/lib/pq"
)

type Db struct {
	JobView JobView

	db *sqlx.DB
}

func New(db *sql.DB) (*Db, error) {
	d := &Db{
		db: sqlx.NewDb(db, "postgres"),
	}

	d.JobView.db = d

	return d, d.MigrateUp()
}

type DatabaseConfig struct {
	User            string `env:"TENANTRUN_DB_USER" envDefault:"postgres"`
	Password        string `env:"TENANTRUN_DB_PASSWORD" envDefault:"postgres"`
	Host            string `env:"TENANTRUN_DB_HOST" envDefault:"localhost"`
	Port            string `env:"TENANTRUN_DB_PORT" envDefault:"5432"`
	DatabaseName    string `env:"TENANTRUN_DB_DATABASE_NAME" envDefault:"postgres"`
	SslMode         string `env:"TENANTRUN_DB_SSL_MODE" envDefault:"require"`
	ApplicationName string `env:"TENANTRUN_DB_APPLICATION_NAME" envDefault:"tenantrun"`
	ConnectAttempts int    `env:"TENANTRUN_DB_CONNECT_ATTEMPTS" envDefault:"3"`
}

func NewFromEnv(ctx context.Context) (*Db, error) {
	config := DatabaseConfig{}
	err := env.Parse(&config)
	if err != nil {
		return nil, errors.Wrap(err, errors.WithMessage("failed to read database config from environment"))
	}

	logger.Default().Info().
		Str("dbHost", config.Host).
		Str("dbName", config.DatabaseName).
		Msg("connecting to postgres")

	db, err := connect(ctx, config)
	if err != nil {
		return nil, err
	}
	return New(db)
}

func connect(ctx context.Context, config DatabaseConfig) (*sql.DB, error) {
	attempts := max(config.ConnectAttempts, 1)
	var lastErr error
	for i := 1; i <= attempts; i++ {
		db, err := sql.Open("postgres", config.ConnString())
		if err == nil {
			err = db.PingContext(ctx)
			if err == nil {
				return db, nil
			}
			_ = db.Close()
		}
		lastErr = err
		if i < attempts {
			logger.Default().Warn().Err(err).Int("attempt", i).Msg("failed to connect to postgres, retrying")
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err())
			case <-time.After(time.Duration(i) * 5 * time.Second):
			}
		}
	}
	return nil, errors.Wrap(lastErr, errors.WithMessage("failed to connect to postgres"))
}

func (d *Db) Close() error {
	return d.db.Close()
}

func (c DatabaseConfig) ConnString() string {
	// Use alternative format for Google Cloud SQL
	if strings.HasPrefix(c.Host, "/cloudsql") {
		return fmt.Sprintf("user=%s password=%s database=%s host=%s",
			c.User, c.Password, c.DatabaseName, c.Host)
	}
	return fmt.Sprintf("postgresql://%s:%s@%s:%s/%s?connect_timeout=10&sslmode=%s&application_name=%s",
		c.User, c.Password, c.Host, c.Port, c.DatabaseName, c.SslMode, c.ApplicationName)
}
