package tenantctx_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jswidler/tenantrun/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	acme   = tenantctx.TenantInfo{TenantId: "acme", DatabaseUrl: "postgresql://acme-db"}
	globex = tenantctx.TenantInfo{TenantId: "globex", DatabaseUrl: "postgresql://globex-db"}
)

func TestNoTenant(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, tenantctx.GetTenant(ctx))
	assert.Equal(t, "", tenantctx.TenantId(ctx))
	assert.Panics(t, func() { tenantctx.MustGetTenant(ctx) })
}

func TestNestedScopes(t *testing.T) {
	ctx := context.Background()
	err := tenantctx.RunWithTenant(ctx, acme, func(ctx context.Context) error {
		assert.Equal(t, "acme", tenantctx.TenantId(ctx))

		err := tenantctx.RunWithTenant(ctx, globex, func(ctx context.Context) error {
			assert.Equal(t, globex, tenantctx.MustGetTenant(ctx))
			return nil
		})
		require.NoError(t, err)

		assert.Equal(t, acme, tenantctx.MustGetTenant(ctx))
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, tenantctx.GetTenant(ctx))
}

func TestScopeRestoredAfterError(t *testing.T) {
	boom := errors.New("boom")
	err := tenantctx.RunWithTenant(context.Background(), acme, func(ctx context.Context) error {
		inner := tenantctx.RunWithTenant(ctx, globex, func(ctx context.Context) error {
			return boom
		})
		assert.ErrorIs(t, inner, boom)
		assert.Equal(t, "acme", tenantctx.TenantId(ctx))
		return inner
	})
	assert.ErrorIs(t, err, boom)
}

func TestScopeRestoredAfterPanic(t *testing.T) {
	_ = tenantctx.RunWithTenant(context.Background(), acme, func(ctx context.Context) error {
		assert.Panics(t, func() {
			_ = tenantctx.RunWithTenant(ctx, globex, func(ctx context.Context) error {
				panic("inner")
			})
		})
		assert.Equal(t, "acme", tenantctx.TenantId(ctx))
		return nil
	})
}

func TestWithoutTenantMasksOuter(t *testing.T) {
	ctx := tenantctx.WithTenant(context.Background(), acme)
	masked := tenantctx.WithoutTenant(ctx)
	assert.Nil(t, tenantctx.GetTenant(masked))
	assert.Equal(t, "acme", tenantctx.TenantId(ctx))
}

func TestGetTenantReturnsCopy(t *testing.T) {
	ctx := tenantctx.WithTenant(context.Background(), acme)
	info := tenantctx.GetTenant(ctx)
	info.TenantId = "changed"
	assert.Equal(t, "acme", tenantctx.TenantId(ctx))
}

// Two flows interleave around a blocking wait; each must keep seeing its own tenant.
func TestConcurrentFlowsDoNotLeak(t *testing.T) {
	var wg sync.WaitGroup
	step := make(chan struct{})
	results := make([]string, 2)

	run := func(i int, info tenantctx.TenantInfo, wait, signal chan struct{}) {
		defer wg.Done()
		_ = tenantctx.RunWithTenant(context.Background(), info, func(ctx context.Context) error {
			if signal != nil {
				signal <- struct{}{}
			}
			if wait != nil {
				<-wait
			}
			results[i] = tenantctx.TenantId(ctx)
			return nil
		})
	}

	wg.Add(2)
	go run(0, acme, step, nil)
	go run(1, globex, nil, step)
	wg.Wait()

	assert.Equal(t, []string{"acme", "globex"}, results)
}

func TestManyConcurrentFlows(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		info := acme
		if i%2 == 1 {
			info = globex
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tenantctx.RunWithTenant(context.Background(), info, func(ctx context.Context) error {
				assert.Equal(t, info.TenantId, tenantctx.TenantId(ctx))
				return nil
			})
		}()
	}
	wg.Wait()
}
