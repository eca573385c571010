// Package router resolves which tenant a request or a bare tenant id belongs to.
//
// A DatabaseRouter is a pure lookup: it never panics and signals "no match" by returning nil.
// One router is installed process-wide with SetRouter at startup; with none installed the
// process runs in single-tenant mode and every resolution returns nil.
package router

import (
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/jswidler/tenantrun/tenantctx"
)

// RouteContext holds the parts of an inbound request used to pick a tenant.
type RouteContext struct {
	Hostname string
	Headers  http.Header
}

func RouteContextFromRequest(r *http.Request) RouteContext {
	return RouteContext{Hostname: r.Host, Headers: r.Header}
}

type DatabaseRouter interface {
	ResolveFromRequest(rc RouteContext) *tenantctx.TenantInfo
	ResolveById(tenantId string) *tenantctx.TenantInfo
}

// DatabaseUrlEnvVar is the environment variable holding the connection string for a tenant,
// e.g. "acme" -> TENANT_ACME_DATABASE_URL. It returns "" for ids that cannot name a variable
// unambiguously: empty, or containing anything other than ASCII letters, digits and "_".
func DatabaseUrlEnvVar(tenantId string) string {
	if !validEnvId(tenantId) {
		return ""
	}
	return "TENANT_" + strings.ToUpper(tenantId) + "_DATABASE_URL"
}

func validEnvId(tenantId string) bool {
	if tenantId == "" {
		return false
	}
	for _, c := range tenantId {
		if !(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') && c != '_' {
			return false
		}
	}
	return true
}

// tenantFromEnv builds a TenantInfo from the tenant's secret, or nil if it is not set or the
// id has no variable of its own.
func tenantFromEnv(tenantId string) *tenantctx.TenantInfo {
	name := DatabaseUrlEnvVar(tenantId)
	if name == "" {
		return nil
	}
	url := strings.TrimSpace(os.Getenv(name))
	if url == "" {
		return nil
	}
	return &tenantctx.TenantInfo{TenantId: tenantId, DatabaseUrl: url}
}

// stripPort removes a trailing ":<port>" and IPv6 brackets, and lowercases the host.
func stripPort(hostname string) string {
	host := strings.TrimSpace(hostname)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	return strings.ToLower(strings.TrimSuffix(host, "."))
}
