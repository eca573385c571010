package router

import (
	"net/http"

	"github.com/jswidler/tenantrun/logger"
	"github.com/jswidler/tenantrun/tenantctx"
)

type MiddlewareOption func(*middlewareOptions)

type middlewareOptions struct {
	requireTenant bool
}

// WithRequireTenant rejects requests with 404 when tenant mode is on and no tenant resolves,
// instead of serving them unscoped.
func WithRequireTenant() MiddlewareOption {
	return func(o *middlewareOptions) {
		o.requireTenant = true
	}
}

// Middleware resolves the tenant for each request through reg and serves the request with the
// tenant on its context.
func Middleware(reg *Registry, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	o := middlewareOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !reg.IsTenantModeEnabled() {
				next.ServeHTTP(w, r)
				return
			}
			info := reg.ResolveTenantFromRequest(RouteContextFromRequest(r))
			if info == nil {
				if o.requireTenant {
					logger.Ctx(r.Context()).Warn().Str("host", r.Host).Msg("no tenant for request")
					http.Error(w, "Tenant not found", http.StatusNotFound)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			ctx := logger.WithStr(r.Context(), "tenantId", info.TenantId)
			ctx = tenantctx.WithTenant(ctx, *info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
