package poolcache

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/jmoiron/sqlx"
	"github.com/jswidler/tenantrun/errors"
	"github.com/jswidler/tenantrun/logger"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// PgxConnector builds a pgxpool per tenant and exposes it through database/sql so callers get a
// *sqlx.DB.
type PgxConnector struct {
	Config Config
}

func (c PgxConnector) Connect(ctx context.Context, tenantId, databaseUrl string) (*Client, error) {
	cfg, err := pgxpool.ParseConfig(databaseUrl)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidDatabaseUrl, errors.WithCause(err))
	}
	cfg.MaxConns = c.Config.PoolSize
	cfg.MinConns = 0
	cfg.MaxConnIdleTime = c.Config.MaxConnIdleTime
	cfg.MaxConnLifetime = c.Config.MaxConnLifetime
	if c.Config.ApplicationName != "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = c.Config.ApplicationName
	}
	if level, err := tracelog.LogLevelFromString(c.Config.TraceLevel); err == nil && level != tracelog.LogLevelNone {
		cfg.ConnConfig.Tracer = &tracelog.TraceLog{Logger: queryLogger(tenantId), LogLevel: level}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	db := sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")
	return NewClient(tenantId, db, pool.Close), nil
}

// queryLogger sends pgx trace output to the context logger, tagged with the tenant.
func queryLogger(tenantId string) tracelog.Logger {
	return tracelog.LoggerFunc(func(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
		logger.Ctx(ctx).WithLevel(zerologLevel(level)).
			Str("tenantId", tenantId).
			Fields(data).
			Msg(msg)
	})
}

func zerologLevel(level tracelog.LogLevel) zerolog.Level {
	switch level {
	case tracelog.LogLevelTrace:
		return zerolog.TraceLevel
	case tracelog.LogLevelDebug:
		return zerolog.DebugLevel
	case tracelog.LogLevelInfo:
		return zerolog.InfoLevel
	case tracelog.LogLevelWarn:
		return zerolog.WarnLevel
	case tracelog.LogLevelError:
		return zerolog.ErrorLevel
	}
	return zerolog.NoLevel
}

// SqlConnector opens tenants through database/sql with the lib/pq driver.
type SqlConnector struct {
	Config Config
}

func (c SqlConnector) Connect(ctx context.Context, tenantId, databaseUrl string) (*Client, error) {
	dsn, err := c.dsn(databaseUrl)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidDatabaseUrl, errors.WithCause(err))
	}

	db, err := sqlx.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidDatabaseUrl, errors.WithCause(err))
	}
	db.SetMaxOpenConns(int(c.Config.PoolSize))
	db.SetMaxIdleConns(int(c.Config.PoolSize))
	db.SetConnMaxIdleTime(c.Config.MaxConnIdleTime)
	db.SetConnMaxLifetime(c.Config.MaxConnLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewClient(tenantId, db, nil), nil
}

// dsn converts postgres:// urls to lib/pq key/value form and adds the application name.
func (c SqlConnector) dsn(databaseUrl string) (string, error) {
	dsn := databaseUrl
	if strings.HasPrefix(databaseUrl, "postgres://") || strings.HasPrefix(databaseUrl, "postgresql://") {
		var err error
		dsn, err = pq.ParseURL(databaseUrl)
		if err != nil {
			return "", err
		}
	}
	if c.Config.ApplicationName != "" && !strings.Contains(dsn, "application_name") {
		dsn += " fallback_application_name=" + quoteDsnValue(c.Config.ApplicationName)
	}
	return strings.TrimSpace(dsn), nil
}

func quoteDsnValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
