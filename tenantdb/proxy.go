package tenantdb

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Proxy forwards database calls to the primary of its scope: the top-level configuration, or one
// tenant's primary/replica set.
type Proxy struct {
	root     *ProxyConfig
	tenantId string
	scope    TenantConfig
	observer Observer
}

var _ Handle = (*Proxy)(nil)

type Option func(*proxyOptions)

type proxyOptions struct {
	observer Observer
}

// WithObserver replaces the default Metrics observer.
func WithObserver(o Observer) Option {
	return func(opts *proxyOptions) {
		if o != nil {
			opts.observer = o
		}
	}
}

// New panics if cfg has no primary; that is a wiring mistake, not a runtime condition.
func New(cfg ProxyConfig, opts ...Option) *Proxy {
	if cfg.Primary == nil {
		panic("tenantdb: a primary handle is required")
	}
	o := proxyOptions{observer: &Metrics{}}
	for _, opt := range opts {
		opt(&o)
	}
	root := cfg
	return &Proxy{
		root:     &root,
		scope:    cfg.TenantConfig,
		observer: o.observer,
	}
}

func (p *Proxy) scoped(tenantId string, scope TenantConfig) *Proxy {
	return &Proxy{root: p.root, tenantId: tenantId, scope: scope, observer: p.observer}
}

// TenantId is the tenant this proxy is scoped to, or "" for the top level.
func (p *Proxy) TenantId() string {
	return p.tenantId
}

// Primary is the handle every direct call on the proxy goes to.
func (p *Proxy) Primary() Handle {
	return p.scope.Primary
}

// Observer returns the observer route events are sent to.
func (p *Proxy) Observer() Observer {
	return p.observer
}

func (p *Proxy) HasTenant(tenantId string) bool {
	tc, ok := p.root.Tenants[tenantId]
	return ok && tc.Primary != nil
}

// Replica returns the named replica from this proxy's own scope. An empty or unknown name
// returns the primary. Replicas are leaf handles.
func (p *Proxy) Replica(name string) Handle {
	if name == "" {
		p.emit(OpReplica, name, FallbackNoName)
		return p.scope.Primary
	}
	replica, ok := p.scope.Replicas[name]
	if !ok || replica == nil {
		p.emit(OpReplica, name, FallbackUnknown)
		return p.scope.Primary
	}
	p.emit(OpReplica, name, FallbackNone)
	return replica
}

// Tenant returns a proxy scoped to the named tenant. On a tenant-scoped proxy an empty name
// returns an equivalent proxy for the same tenant. Otherwise an empty or unknown name returns a
// proxy over the top-level configuration.
func (p *Proxy) Tenant(name string) *Proxy {
	if name == "" {
		if p.tenantId != "" {
			p.emit(OpTenant, name, FallbackNone)
			return p.scoped(p.tenantId, p.scope)
		}
		p.emit(OpTenant, name, FallbackNoName)
		return p.scoped("", p.root.TenantConfig)
	}
	tc, ok := p.root.Tenants[name]
	if !ok || tc.Primary == nil {
		p.emit(OpTenant, name, FallbackUnknown)
		return p.scoped("", p.root.TenantConfig)
	}
	p.emit(OpTenant, name, FallbackNone)
	return p.scoped(name, tc)
}

func (p *Proxy) emit(op Op, name string, fallback Fallback) {
	p.observer.ObserveRoute(RouteEvent{Op: op, Name: name, Tenant: p.tenantId, Fallback: fallback})
}

func (p *Proxy) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return p.scope.Primary.GetContext(ctx, dest, query, args...)
}

func (p *Proxy) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return p.scope.Primary.SelectContext(ctx, dest, query, args...)
}

func (p *Proxy) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return p.scope.Primary.ExecContext(ctx, query, args...)
}

func (p *Proxy) NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error) {
	return p.scope.Primary.NamedExecContext(ctx, query, arg)
}

func (p *Proxy) QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	return p.scope.Primary.QueryxContext(ctx, query, args...)
}

func (p *Proxy) QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row {
	return p.scope.Primary.QueryRowxContext(ctx, query, args...)
}

func (p *Proxy) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return p.scope.Primary.BeginTxx(ctx, opts)
}

func (p *Proxy) PingContext(ctx context.Context) error {
	return p.scope.Primary.PingContext(ctx)
}

func (p *Proxy) Close() error {
	return p.scope.Primary.Close()
}
