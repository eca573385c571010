package router

import (
	"encoding/json"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/jswidler/tenantrun/errors"
	"github.com/jswidler/tenantrun/logger"
)

var ErrInvalidHostnameMap = errors.Sentinel("invalid tenant hostname map")

type Config struct {
	// JSON object of hostname -> tenant id, e.g. {"app.acme.com":"acme"}
	HostnameMap string `env:"TENANT_HOSTNAME_MAP"`
	// When set, a HeaderResolver on this header is tried after the hostname map.
	Header string `env:"TENANT_HEADER"`
}

// LoadDotEnv reads a .env file into the environment if one exists.
func LoadDotEnv(filenames ...string) {
	if err := godotenv.Load(filenames...); err == nil {
		logger.Default().Debug().Msg("loaded .env file")
	}
}

// FromConfig builds the router described by cfg. It returns nil (single-tenant mode) when no
// hostname map is configured.
func FromConfig(cfg Config) (DatabaseRouter, error) {
	if cfg.HostnameMap == "" {
		return nil, nil
	}
	hosts := map[string]string{}
	if err := json.Unmarshal([]byte(cfg.HostnameMap), &hosts); err != nil {
		return nil, errors.Wrap(ErrInvalidHostnameMap, errors.WithCause(err))
	}
	var r DatabaseRouter = NewHostnameResolver(hosts)
	if cfg.Header != "" {
		r = ChainResolver{r, NewHeaderResolver(cfg.Header)}
	}
	return r, nil
}

// ConfigureFromEnv installs the router described by the environment on reg. A malformed
// hostname map is logged and leaves reg in single-tenant mode rather than failing startup.
// It reports whether tenant mode was enabled.
func ConfigureFromEnv(reg *Registry) bool {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		logger.Default().Error().Err(err).Msg("failed to read tenant router config from environment")
		return false
	}
	r, err := FromConfig(cfg)
	if err != nil {
		logger.Default().Error().Err(err).Msg("tenant hostname map is not valid JSON, running in single-tenant mode")
		reg.SetRouter(nil)
		return false
	}
	if r == nil {
		logger.Default().Info().Msg("no tenant router configured, running in single-tenant mode")
		return false
	}
	reg.SetRouter(r)
	logger.Default().Info().Msg("tenant router configured")
	return true
}
