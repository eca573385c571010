// Package tenantdb routes database access to the right tenant database and replica.
//
// A Proxy is itself a Handle: calls made on it go to the primary of its scope. Replica and
// Tenant pick narrower handles and always degrade to a usable primary instead of failing when a
// name is unknown; every such decision is reported to an Observer.
package tenantdb

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Handle is the database surface the proxy forwards. *sqlx.DB satisfies it.
type Handle interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)

	PingContext(ctx context.Context) error
	Close() error
}

var _ Handle = (*sqlx.DB)(nil)

type TenantConfig struct {
	Primary  Handle
	Replicas map[string]Handle
}

type ProxyConfig struct {
	TenantConfig
	Tenants map[string]TenantConfig
}
