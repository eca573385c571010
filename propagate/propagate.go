// Package propagate carries the active tenant from the code that dispatches a background task to
// the code that runs it.
//
// The tenant travels in the task's metadata, never in its payload, so task bodies need no
// tenancy awareness: Run rebuilds the tenant scope before the body starts.
package propagate

import (
	"context"

	"github.com/jswidler/tenantrun/logger"
	"github.com/jswidler/tenantrun/tenantctx"
)

// TenantIdKey is the metadata key holding the dispatching flow's tenant id.
const TenantIdKey = "tenantId"

type Metadata map[string]string

// MetadataReader reads the metadata of the task currently running on ctx.
type MetadataReader func(ctx context.Context) (Metadata, error)

// Resolver turns a tenant id back into a TenantInfo. *router.Registry satisfies it.
type Resolver interface {
	IsTenantModeEnabled() bool
	ResolveTenantById(tenantId string) *tenantctx.TenantInfo
}

// Inject adds the ambient tenant of ctx to md. Without an ambient tenant md is returned as is.
func Inject(ctx context.Context, md Metadata) Metadata {
	tenantId := tenantctx.TenantId(ctx)
	if tenantId == "" {
		return md
	}
	if md == nil {
		md = Metadata{}
	}
	md[TenantIdKey] = tenantId
	return md
}

// Run calls body, scoped to the tenant recorded in the task metadata when there is one.
//
// Body runs unscoped when tenant mode is off, when the metadata has no tenant, or when the
// tenant no longer resolves. The last case is logged as an error but does not stop the task.
func Run(ctx context.Context, resolver Resolver, read MetadataReader, body func(ctx context.Context) error) error {
	if resolver == nil || !resolver.IsTenantModeEnabled() {
		return body(ctx)
	}

	md, err := read(ctx)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to read task metadata, running without tenant")
		return body(ctx)
	}
	tenantId := md[TenantIdKey]
	if tenantId == "" {
		return body(ctx)
	}

	info := resolver.ResolveTenantById(tenantId)
	if info == nil {
		logger.Ctx(ctx).Error().
			Str("orphanedTenantId", tenantId).
			Msg("task tenant does not resolve to a database, running without tenant")
		return body(ctx)
	}

	ctx = logger.WithStr(ctx, "tenantId", info.TenantId)
	return tenantctx.RunWithTenant(ctx, *info, body)
}

// Wrap returns a handler that runs h through Run.
func Wrap[T any, R any](resolver Resolver, read MetadataReader, h func(ctx context.Context, args T) (R, error)) func(ctx context.Context, args T) (R, error) {
	return func(ctx context.Context, args T) (R, error) {
		var result R
		err := Run(ctx, resolver, read, func(ctx context.Context) error {
			var err error
			result, err = h(ctx, args)
			return err
		})
		return result, err
	}
}
