// Package tenantctx carries the tenant active for a logical flow on its context.Context.
//
// A tenant set with WithTenant is visible to everything called with the derived context and
// nothing else: the parent context is never changed, so leaving a scope (by return, error or
// panic) restores whatever was active before, and concurrent goroutines never see each other's
// tenant.
package tenantctx

import "context"

// TenantInfo describes a resolved tenant. DatabaseUrl is a secret connection string and must not
// be logged.
type TenantInfo struct {
	TenantId    string
	DatabaseUrl string
}

func WithTenant(ctx context.Context, info TenantInfo) context.Context {
	return context.WithValue(ctx, tenantKey, &info)
}

// WithoutTenant hides any tenant set on an enclosing context.
func WithoutTenant(ctx context.Context) context.Context {
	return context.WithValue(ctx, tenantKey, (*TenantInfo)(nil))
}

// GetTenant returns a copy of the active tenant, or nil if the flow is not scoped to one.
func GetTenant(ctx context.Context) *TenantInfo {
	info, _ := ctx.Value(tenantKey).(*TenantInfo)
	if info == nil {
		return nil
	}
	cp := *info
	return &cp
}

func TenantId(ctx context.Context) string {
	info, _ := ctx.Value(tenantKey).(*TenantInfo)
	if info == nil {
		return ""
	}
	return info.TenantId
}

func MustGetTenant(ctx context.Context) TenantInfo {
	info := GetTenant(ctx)
	if info == nil {
		panic("no tenant in context")
	}
	return *info
}

// RunWithTenant calls fn with a context scoped to info and returns fn's error.
func RunWithTenant(ctx context.Context, info TenantInfo, fn func(ctx context.Context) error) error {
	return fn(WithTenant(ctx, info))
}

type tenantKeyType int

const tenantKey tenantKeyType = iota
