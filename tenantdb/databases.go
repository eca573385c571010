package tenantdb

import (
	"context"

	"github.com/jswidler/tenantrun/errors"
	"github.com/jswidler/tenantrun/poolcache"
	"github.com/jswidler/tenantrun/tenantctx"
)

var ErrTenantDatabaseUnavailable = errors.Sentinel("tenant database unavailable")

// Databases picks the proxy for the tenant active on a context. Tenants listed in the proxy's
// configuration use that configuration; any other tenant gets its primary from the pool cache.
type Databases struct {
	proxy *Proxy
	pools *poolcache.Cache
}

// NewDatabases accepts a nil pools, in which case only statically configured tenants resolve.
func NewDatabases(proxy *Proxy, pools *poolcache.Cache) *Databases {
	return &Databases{proxy: proxy, pools: pools}
}

func (d *Databases) Proxy() *Proxy {
	return d.proxy
}

// For returns the top-level proxy when ctx carries no tenant. When it does, the result is
// always scoped to that tenant or an error; it never falls back to another database.
func (d *Databases) For(ctx context.Context) (*Proxy, error) {
	info := tenantctx.GetTenant(ctx)
	if info == nil {
		return d.proxy, nil
	}
	if d.proxy.HasTenant(info.TenantId) {
		return d.proxy.Tenant(info.TenantId), nil
	}
	if d.pools == nil || info.DatabaseUrl == "" {
		return nil, errors.Wrap(ErrTenantDatabaseUnavailable, errors.WithTenant(info.TenantId))
	}
	client, err := d.pools.GetOrCreate(ctx, info.TenantId, info.DatabaseUrl)
	if err != nil {
		return nil, errors.Wrap(ErrTenantDatabaseUnavailable, errors.WithCause(err), errors.WithTenant(info.TenantId))
	}
	return d.proxy.scoped(info.TenantId, TenantConfig{Primary: client}), nil
}

// Close closes the cached tenant pools, then the top-level primary.
func (d *Databases) Close() error {
	var err error
	if d.pools != nil {
		err = d.pools.Close()
	}
	if err2 := d.proxy.Close(); err == nil {
		err = err2
	}
	return err
}
