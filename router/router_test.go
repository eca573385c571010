package router_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jswidler/tenantrun/router"
	"github.com/jswidler/tenantrun/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseUrlEnvVar(t *testing.T) {
	assert.Equal(t, "TENANT_ACME_DATABASE_URL", router.DatabaseUrlEnvVar("acme"))
	assert.Equal(t, "TENANT_ACME_CORP_DATABASE_URL", router.DatabaseUrlEnvVar("acme_corp"))
	assert.Equal(t, "TENANT_T42_DATABASE_URL", router.DatabaseUrlEnvVar("t42"))

	for _, id := range []string{"", "acme-corp", "acme.corp", "acme corp", "acme/../corp", "acmé"} {
		assert.Empty(t, router.DatabaseUrlEnvVar(id), id)
	}
}

func TestIdsWithoutTheirOwnVariableDoNotResolve(t *testing.T) {
	t.Setenv("TENANT_ACME_CORP_DATABASE_URL", "postgresql://acme-corp-db")

	hosts := router.NewHostnameResolver(map[string]string{"app.acme.com": "acme.corp"})
	assert.Nil(t, hosts.ResolveById("acme.corp"))
	assert.Nil(t, hosts.ResolveById("acme corp"))
	assert.Nil(t, hosts.ResolveById("acme-corp"))
	assert.Nil(t, hosts.ResolveFromRequest(router.RouteContext{Hostname: "app.acme.com"}))

	headers := router.NewHeaderResolver("")
	for _, id := range []string{"acme.corp", "acme-corp", "acme corp"} {
		h := http.Header{}
		h.Set("X-Tenant-Id", id)
		assert.Nil(t, headers.ResolveFromRequest(router.RouteContext{Headers: h}), id)
	}

	info := hosts.ResolveById("acme_corp")
	require.NotNil(t, info)
	assert.Equal(t, "acme_corp", info.TenantId)
	assert.Equal(t, "postgresql://acme-corp-db", info.DatabaseUrl)
}

func TestSingleTenantMode(t *testing.T) {
	router.SetRouter(nil)

	assert.False(t, router.IsTenantModeEnabled())
	assert.Nil(t, router.ResolveTenantById("acme"))
	assert.Nil(t, router.ResolveTenantFromHostname("app.acme.com"))
	assert.Nil(t, router.ResolveTenantFromRequest(router.RouteContext{Hostname: "app.acme.com"}))
}

func TestHostnameResolver(t *testing.T) {
	t.Setenv("TENANT_ACME_DATABASE_URL", "postgresql://acme-db")
	router.SetRouter(router.NewHostnameResolver(map[string]string{"app.acme.com": "acme"}))
	t.Cleanup(func() { router.SetRouter(nil) })

	want := &tenantctx.TenantInfo{TenantId: "acme", DatabaseUrl: "postgresql://acme-db"}

	assert.True(t, router.IsTenantModeEnabled())
	assert.Equal(t, want, router.ResolveTenantFromRequest(router.RouteContext{Hostname: "app.acme.com:3000"}))
	assert.Equal(t, want, router.ResolveTenantFromHostname("app.acme.com"))
	assert.Equal(t, want, router.ResolveTenantFromHostname("APP.acme.com:443"))
	assert.Equal(t, want, router.ResolveTenantById("acme"))

	assert.Nil(t, router.ResolveTenantFromHostname("app.other.com"))
	assert.Nil(t, router.ResolveTenantFromHostname(""))
	assert.Nil(t, router.ResolveTenantById("other"))
	assert.Nil(t, router.ResolveTenantById(""))
}

func TestHostnameResolverMissingSecret(t *testing.T) {
	t.Setenv("TENANT_ACME_DATABASE_URL", "")
	r := router.NewHostnameResolver(map[string]string{"app.acme.com": "acme"})

	assert.Nil(t, r.ResolveFromHostname("app.acme.com"))
	assert.Nil(t, r.ResolveById("acme"))
}

func TestHeaderResolver(t *testing.T) {
	t.Setenv("TENANT_GLOBEX_DATABASE_URL", "postgresql://globex-db")
	r := router.NewHeaderResolver("")

	h := http.Header{}
	h.Set("X-Tenant-Id", "globex")
	info := r.ResolveFromRequest(router.RouteContext{Headers: h})
	require.NotNil(t, info)
	assert.Equal(t, "globex", info.TenantId)

	assert.Nil(t, r.ResolveFromRequest(router.RouteContext{}))
}

func TestChainResolver(t *testing.T) {
	t.Setenv("TENANT_ACME_DATABASE_URL", "postgresql://acme-db")
	t.Setenv("TENANT_GLOBEX_DATABASE_URL", "postgresql://globex-db")
	chain := router.ChainResolver{
		router.NewHostnameResolver(map[string]string{"app.acme.com": "acme"}),
		router.NewHeaderResolver("X-Tenant"),
	}

	h := http.Header{}
	h.Set("X-Tenant", "globex")
	assert.Equal(t, "acme", chain.ResolveFromRequest(router.RouteContext{Hostname: "app.acme.com", Headers: h}).TenantId)
	assert.Equal(t, "globex", chain.ResolveFromRequest(router.RouteContext{Hostname: "unknown.com", Headers: h}).TenantId)
}

type panickyRouter struct{}

func (panickyRouter) ResolveFromRequest(router.RouteContext) *tenantctx.TenantInfo { panic("boom") }
func (panickyRouter) ResolveById(string) *tenantctx.TenantInfo                     { panic("boom") }

func TestRegistryNeverPanics(t *testing.T) {
	reg := router.NewRegistry(panickyRouter{})

	assert.NotPanics(t, func() {
		assert.Nil(t, reg.ResolveTenantById("acme"))
		assert.Nil(t, reg.ResolveTenantFromHostname("app.acme.com"))
	})
}

func TestRegistryReplacesRouter(t *testing.T) {
	t.Setenv("TENANT_ACME_DATABASE_URL", "postgresql://acme-db")
	reg := router.NewRegistry(router.NewHostnameResolver(map[string]string{"a.example.com": "acme"}))
	assert.NotNil(t, reg.ResolveTenantFromHostname("a.example.com"))

	reg.SetRouter(router.NewHostnameResolver(map[string]string{"b.example.com": "acme"}))
	assert.Nil(t, reg.ResolveTenantFromHostname("a.example.com"))
	assert.NotNil(t, reg.ResolveTenantFromHostname("b.example.com"))
}

func TestConfigureFromEnv(t *testing.T) {
	t.Setenv("TENANT_ACME_DATABASE_URL", "postgresql://acme-db")

	t.Run("valid map", func(t *testing.T) {
		t.Setenv("TENANT_HOSTNAME_MAP", `{"app.acme.com":"acme"}`)
		reg := &router.Registry{}
		assert.True(t, router.ConfigureFromEnv(reg))
		assert.Equal(t, "acme", reg.ResolveTenantFromHostname("app.acme.com:8080").TenantId)
	})

	t.Run("malformed map", func(t *testing.T) {
		t.Setenv("TENANT_HOSTNAME_MAP", `{"app.acme.com":`)
		reg := &router.Registry{}
		assert.False(t, router.ConfigureFromEnv(reg))
		assert.False(t, reg.IsTenantModeEnabled())
	})

	t.Run("unset", func(t *testing.T) {
		t.Setenv("TENANT_HOSTNAME_MAP", "")
		reg := &router.Registry{}
		assert.False(t, router.ConfigureFromEnv(reg))
		assert.False(t, reg.IsTenantModeEnabled())
	})

	t.Run("with header", func(t *testing.T) {
		t.Setenv("TENANT_HOSTNAME_MAP", `{}`)
		t.Setenv("TENANT_HEADER", "X-Tenant")
		reg := &router.Registry{}
		assert.True(t, router.ConfigureFromEnv(reg))
		h := http.Header{}
		h.Set("X-Tenant", "acme")
		assert.NotNil(t, reg.ResolveTenantFromRequest(router.RouteContext{Headers: h}))
	})
}

func TestMiddleware(t *testing.T) {
	t.Setenv("TENANT_ACME_DATABASE_URL", "postgresql://acme-db")
	reg := router.NewRegistry(router.NewHostnameResolver(map[string]string{"app.acme.com": "acme"}))

	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = tenantctx.TenantId(r.Context())
	})

	t.Run("resolves tenant", func(t *testing.T) {
		seen = "unset"
		req := httptest.NewRequest(http.MethodGet, "http://app.acme.com:3000/", nil)
		rec := httptest.NewRecorder()
		router.Middleware(reg)(handler).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "acme", seen)
	})

	t.Run("unknown host served unscoped", func(t *testing.T) {
		seen = "unset"
		req := httptest.NewRequest(http.MethodGet, "http://other.com/", nil)
		rec := httptest.NewRecorder()
		router.Middleware(reg)(handler).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "", seen)
	})

	t.Run("unknown host rejected when required", func(t *testing.T) {
		seen = "unset"
		req := httptest.NewRequest(http.MethodGet, "http://other.com/", nil)
		rec := httptest.NewRecorder()
		router.Middleware(reg, router.WithRequireTenant())(handler).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "unset", seen)
	})

	t.Run("single-tenant mode passes through", func(t *testing.T) {
		seen = "unset"
		req := httptest.NewRequest(http.MethodGet, "http://app.acme.com/", nil)
		rec := httptest.NewRecorder()
		router.Middleware(&router.Registry{}, router.WithRequireTenant())(handler).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "", seen)
	})
}
