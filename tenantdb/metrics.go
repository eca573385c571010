package tenantdb

import (
	"sync/atomic"

	"github.com/jswidler/tenantrun/logger"
)

type Op string

const (
	OpReplica Op = "replica"
	OpTenant  Op = "tenant"
)

type Fallback string

const (
	FallbackNone    Fallback = ""
	FallbackNoName  Fallback = "no-name"
	FallbackUnknown Fallback = "unknown"
)

// RouteEvent records one Replica or Tenant call. Tenant is the tenant the calling proxy was
// scoped to ("" at top level).
type RouteEvent struct {
	Op       Op
	Name     string
	Tenant   string
	Fallback Fallback
}

type Observer interface {
	ObserveRoute(e RouteEvent)
}

type ObserverFunc func(e RouteEvent)

func (f ObserverFunc) ObserveRoute(e RouteEvent) {
	f(e)
}

// Metrics counts routing decisions and logs fallbacks. Fallbacks on an unknown name are logged
// at warn since they usually mean a replica or tenant was never provisioned.
type Metrics struct {
	replicaRoutes  atomic.Uint64
	replicaNoName  atomic.Uint64
	replicaUnknown atomic.Uint64
	tenantRoutes   atomic.Uint64
	tenantNoName   atomic.Uint64
	tenantUnknown  atomic.Uint64
}

type MetricsSnapshot struct {
	ReplicaRoutes  uint64
	ReplicaNoName  uint64
	ReplicaUnknown uint64
	TenantRoutes   uint64
	TenantNoName   uint64
	TenantUnknown  uint64
}

func (m *Metrics) ObserveRoute(e RouteEvent) {
	switch e.Op {
	case OpReplica:
		m.replicaRoutes.Add(1)
		count(e.Fallback, &m.replicaNoName, &m.replicaUnknown)
	case OpTenant:
		m.tenantRoutes.Add(1)
		count(e.Fallback, &m.tenantNoName, &m.tenantUnknown)
	}

	switch e.Fallback {
	case FallbackNoName:
		logger.Default().Debug().
			Str("op", string(e.Op)).
			Str("tenantId", e.Tenant).
			Msg("no name given, using primary")
	case FallbackUnknown:
		logger.Default().Warn().
			Str("op", string(e.Op)).
			Str("name", e.Name).
			Str("tenantId", e.Tenant).
			Msg("unknown name, using primary")
	}
}

func count(f Fallback, noName, unknown *atomic.Uint64) {
	switch f {
	case FallbackNoName:
		noName.Add(1)
	case FallbackUnknown:
		unknown.Add(1)
	}
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		ReplicaRoutes:  m.replicaRoutes.Load(),
		ReplicaNoName:  m.replicaNoName.Load(),
		ReplicaUnknown: m.replicaUnknown.Load(),
		TenantRoutes:   m.tenantRoutes.Load(),
		TenantNoName:   m.tenantNoName.Load(),
		TenantUnknown:  m.tenantUnknown.Load(),
	}
}
