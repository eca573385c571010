package tenantdb_test

import (
	"context"
	"errors"
	"testing"

	tenanterrors "github.com/jswidler/tenantrun/errors"
	"github.com/jswidler/tenantrun/poolcache"
	"github.com/jswidler/tenantrun/tenantctx"
	"github.com/jswidler/tenantrun/tenantdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPools() *poolcache.Cache {
	return poolcache.New(poolcache.ConnectorFunc(func(ctx context.Context, tenantId, databaseUrl string) (*poolcache.Client, error) {
		if databaseUrl == "postgresql://broken" {
			return nil, errors.New("connection refused")
		}
		return poolcache.NewClient(tenantId, nil, nil), nil
	}))
}

func TestDatabasesWithoutTenant(t *testing.T) {
	f := newFixture()
	dbs := tenantdb.NewDatabases(f.proxy, newPools())

	p, err := dbs.For(context.Background())
	require.NoError(t, err)
	assert.Same(t, f.proxy, p)
}

func TestDatabasesStaticTenant(t *testing.T) {
	f := newFixture()
	dbs := tenantdb.NewDatabases(f.proxy, newPools())

	ctx := tenantctx.WithTenant(context.Background(), tenantctx.TenantInfo{TenantId: "acme", DatabaseUrl: "postgresql://acme-db"})
	p, err := dbs.For(ctx)
	require.NoError(t, err)
	assert.Same(t, f.TP, p.Primary())
	assert.Same(t, f.TR, p.Replica("read"))
}

func TestDatabasesPooledTenant(t *testing.T) {
	f := newFixture()
	pools := newPools()
	dbs := tenantdb.NewDatabases(f.proxy, pools)

	ctx := tenantctx.WithTenant(context.Background(), tenantctx.TenantInfo{TenantId: "globex", DatabaseUrl: "postgresql://globex-db"})
	p1, err := dbs.For(ctx)
	require.NoError(t, err)
	p2, err := dbs.For(ctx)
	require.NoError(t, err)

	client := pools.Get("globex")
	require.NotNil(t, client)
	assert.Same(t, client, p1.Primary())
	assert.Same(t, client, p2.Primary())
	assert.Equal(t, "globex", p1.TenantId())

	// The global "read" replica belongs to another database.
	assert.Same(t, client, p1.Replica("read"))
	assert.Same(t, client, p1.Tenant("").Primary())
}

func TestDatabasesNeverFallBackToAnotherTenant(t *testing.T) {
	f := newFixture()

	t.Run("no pool cache", func(t *testing.T) {
		dbs := tenantdb.NewDatabases(f.proxy, nil)
		ctx := tenantctx.WithTenant(context.Background(), tenantctx.TenantInfo{TenantId: "globex", DatabaseUrl: "postgresql://globex-db"})
		p, err := dbs.For(ctx)
		assert.Nil(t, p)
		assert.True(t, tenanterrors.Is(err, tenantdb.ErrTenantDatabaseUnavailable))
		assert.Equal(t, "globex", tenanterrors.Tenant(err))
	})

	t.Run("connect failure", func(t *testing.T) {
		dbs := tenantdb.NewDatabases(f.proxy, newPools())
		ctx := tenantctx.WithTenant(context.Background(), tenantctx.TenantInfo{TenantId: "globex", DatabaseUrl: "postgresql://broken"})
		p, err := dbs.For(ctx)
		assert.Nil(t, p)
		assert.True(t, tenanterrors.Is(err, tenantdb.ErrTenantDatabaseUnavailable))
	})

	assert.Empty(t, f.P.Calls())
}
