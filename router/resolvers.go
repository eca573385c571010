package router

import (
	"strings"

	"github.com/jswidler/tenantrun/tenantctx"
)

// HostnameResolver maps request hostnames to tenant ids and reads each tenant's database url
// from the environment (see DatabaseUrlEnvVar).
type HostnameResolver struct {
	hosts map[string]string
}

var _ DatabaseRouter = (*HostnameResolver)(nil)

func NewHostnameResolver(hostToTenant map[string]string) *HostnameResolver {
	hosts := make(map[string]string, len(hostToTenant))
	for host, tenantId := range hostToTenant {
		hosts[stripPort(host)] = tenantId
	}
	return &HostnameResolver{hosts: hosts}
}

func (r *HostnameResolver) ResolveFromRequest(rc RouteContext) *tenantctx.TenantInfo {
	return r.ResolveFromHostname(rc.Hostname)
}

// ResolveFromHostname resolves "app.acme.com" and "app.acme.com:3000" identically.
func (r *HostnameResolver) ResolveFromHostname(hostname string) *tenantctx.TenantInfo {
	tenantId, ok := r.hosts[stripPort(hostname)]
	if !ok {
		return nil
	}
	return tenantFromEnv(tenantId)
}

func (r *HostnameResolver) ResolveById(tenantId string) *tenantctx.TenantInfo {
	return tenantFromEnv(tenantId)
}

const DefaultTenantHeader = "X-Tenant-Id"

// HeaderResolver takes the tenant id from a request header. Only use it behind something that
// authenticates the caller for that tenant.
type HeaderResolver struct {
	header string
}

var _ DatabaseRouter = (*HeaderResolver)(nil)

func NewHeaderResolver(header string) *HeaderResolver {
	if header == "" {
		header = DefaultTenantHeader
	}
	return &HeaderResolver{header: header}
}

func (r *HeaderResolver) ResolveFromRequest(rc RouteContext) *tenantctx.TenantInfo {
	if rc.Headers == nil {
		return nil
	}
	return tenantFromEnv(strings.TrimSpace(rc.Headers.Get(r.header)))
}

func (r *HeaderResolver) ResolveById(tenantId string) *tenantctx.TenantInfo {
	return tenantFromEnv(tenantId)
}

// ChainResolver asks each router in order and returns the first match.
type ChainResolver []DatabaseRouter

var _ DatabaseRouter = ChainResolver(nil)

func (c ChainResolver) ResolveFromRequest(rc RouteContext) *tenantctx.TenantInfo {
	for _, r := range c {
		if info := r.ResolveFromRequest(rc); info != nil {
			return info
		}
	}
	return nil
}

func (c ChainResolver) ResolveById(tenantId string) *tenantctx.TenantInfo {
	for _, r := range c {
		if info := r.ResolveById(tenantId); info != nil {
			return info
		}
	}
	return nil
}
