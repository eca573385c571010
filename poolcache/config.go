package poolcache

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jswidler/tenantrun/errors"
)

var ErrUnknownDriver = errors.Sentinel("unknown tenant database driver")

const (
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
)

// Config applies uniformly to every tenant pool.
type Config struct {
	Driver          string        `env:"TENANT_DB_DRIVER" envDefault:"pgx"` // pgx or postgres (lib/pq)
	PoolSize        int32         `env:"TENANT_DB_POOL_SIZE" envDefault:"5"`
	MaxConnIdleTime time.Duration `env:"TENANT_DB_MAX_CONN_IDLE_TIME" envDefault:"5m"`
	MaxConnLifetime time.Duration `env:"TENANT_DB_MAX_CONN_LIFETIME" envDefault:"30m"`
	ConnectTimeout  time.Duration `env:"TENANT_DB_CONNECT_TIMEOUT" envDefault:"10s"`
	ApplicationName string        `env:"TENANT_DB_APPLICATION_NAME" envDefault:"tenantrun"`
	TraceLevel      string        `env:"TENANT_DB_TRACE_LEVEL" envDefault:"none"` // pgx only
}

func DefaultConfig() Config {
	return Config{
		Driver:          DriverPgx,
		PoolSize:        5,
		MaxConnIdleTime: 5 * time.Minute,
		MaxConnLifetime: 30 * time.Minute,
		ConnectTimeout:  10 * time.Second,
		ApplicationName: "tenantrun",
		TraceLevel:      "none",
	}
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return cfg, errors.Wrap(err, errors.WithMessage("failed to read tenant pool config from environment"))
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultConfig().PoolSize
	}
	return cfg, nil
}

func (c Config) Connector() (Connector, error) {
	switch strings.ToLower(c.Driver) {
	case DriverPgx, "":
		return PgxConnector{Config: c}, nil
	case DriverPostgres:
		return SqlConnector{Config: c}, nil
	}
	return nil, errors.Wrap(ErrUnknownDriver, errors.WithMessagef("unknown tenant database driver %q", c.Driver))
}
