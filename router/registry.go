package router

import (
	"sync/atomic"

	"github.com/jswidler/tenantrun/logger"
	"github.com/jswidler/tenantrun/tenantctx"
)

// Registry holds the active DatabaseRouter. The zero value is ready to use and starts in
// single-tenant mode.
type Registry struct {
	current atomic.Pointer[installed]
}

type installed struct {
	router DatabaseRouter
}

func NewRegistry(r DatabaseRouter) *Registry {
	reg := &Registry{}
	reg.SetRouter(r)
	return reg
}

// SetRouter replaces the active router. Passing nil switches back to single-tenant mode.
func (reg *Registry) SetRouter(r DatabaseRouter) {
	if r == nil {
		reg.current.Store(nil)
		return
	}
	reg.current.Store(&installed{router: r})
}

func (reg *Registry) router() DatabaseRouter {
	in := reg.current.Load()
	if in == nil {
		return nil
	}
	return in.router
}

func (reg *Registry) IsTenantModeEnabled() bool {
	return reg.router() != nil
}

func (reg *Registry) ResolveTenantFromHostname(hostname string) *tenantctx.TenantInfo {
	return reg.ResolveTenantFromRequest(RouteContext{Hostname: hostname})
}

func (reg *Registry) ResolveTenantFromRequest(rc RouteContext) (info *tenantctx.TenantInfo) {
	r := reg.router()
	if r == nil {
		return nil
	}
	defer recoverResolve(&info, "request")
	return r.ResolveFromRequest(rc)
}

func (reg *Registry) ResolveTenantById(tenantId string) (info *tenantctx.TenantInfo) {
	r := reg.router()
	if r == nil || tenantId == "" {
		return nil
	}
	defer recoverResolve(&info, "id")
	return r.ResolveById(tenantId)
}

// recoverResolve turns a panicking router into a miss.
func recoverResolve(info **tenantctx.TenantInfo, by string) {
	if r := recover(); r != nil {
		logger.Default().Error().Interface("panic", r).Str("resolveBy", by).Msg("tenant router panicked")
		*info = nil
	}
}

var defaultRegistry = &Registry{}

// Default returns the process-wide registry used by the package-level functions.
func Default() *Registry {
	return defaultRegistry
}

// SetRouter installs the process-wide router. Call it once from the composition root.
func SetRouter(r DatabaseRouter) {
	defaultRegistry.SetRouter(r)
}

func IsTenantModeEnabled() bool {
	return defaultRegistry.IsTenantModeEnabled()
}

func ResolveTenantFromHostname(hostname string) *tenantctx.TenantInfo {
	return defaultRegistry.ResolveTenantFromHostname(hostname)
}

func ResolveTenantById(tenantId string) *tenantctx.TenantInfo {
	return defaultRegistry.ResolveTenantById(tenantId)
}

func ResolveTenantFromRequest(rc RouteContext) *tenantctx.TenantInfo {
	return defaultRegistry.ResolveTenantFromRequest(rc)
}
