// Package poolcache keeps one connection pool per tenant for the life of the process.
//
// Pools are created lazily on first use and never evicted; the number of tenants served by one
// process is expected to stay small. Concurrent first requests for the same tenant share a
// single creation.
package poolcache

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jswidler/tenantrun/errors"
	"github.com/jswidler/tenantrun/logger"
	"golang.org/x/sync/singleflight"
)

var (
	ErrMissingTenantId    = errors.Sentinel("tenant id is required")
	ErrConnectFailed      = errors.Sentinel("failed to connect to tenant database")
	ErrInvalidDatabaseUrl = errors.Sentinel("invalid tenant database url")
	ErrClosed             = errors.Sentinel("pool cache is closed")
)

// Client is a tenant's database handle together with the pool backing it.
type Client struct {
	*sqlx.DB
	TenantId string

	closeFn func()
}

func NewClient(tenantId string, db *sqlx.DB, closeFn func()) *Client {
	return &Client{DB: db, TenantId: tenantId, closeFn: closeFn}
}

func (c *Client) Close() error {
	var err error
	if c.DB != nil {
		err = c.DB.Close()
	}
	if c.closeFn != nil {
		c.closeFn()
	}
	return err
}

type Connector interface {
	Connect(ctx context.Context, tenantId, databaseUrl string) (*Client, error)
}

type ConnectorFunc func(ctx context.Context, tenantId, databaseUrl string) (*Client, error)

func (f ConnectorFunc) Connect(ctx context.Context, tenantId, databaseUrl string) (*Client, error) {
	return f(ctx, tenantId, databaseUrl)
}

type Cache struct {
	connector      Connector
	connectTimeout time.Duration

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool

	creating singleflight.Group
}

type Option func(*options)

type options struct {
	connectTimeout time.Duration
}

// The longest a pool creation may take, independent of the requesting context.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.connectTimeout = d
		}
	}
}

func New(connector Connector, opts ...Option) *Cache {
	o := options{connectTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache{
		connector:      connector,
		connectTimeout: o.connectTimeout,
		clients:        map[string]*Client{},
	}
}

// NewFromEnv builds a cache whose connector and timeouts come from Config.
func NewFromEnv(opts ...Option) (*Cache, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	connector, err := cfg.Connector()
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithConnectTimeout(cfg.ConnectTimeout)}, opts...)
	return New(connector, opts...), nil
}

// Get returns the cached client for tenantId, or nil.
func (c *Cache) Get(tenantId string) *Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clients[tenantId]
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}

// GetOrCreate returns the client for tenantId, creating it from databaseUrl on first use. Later
// calls return the same *Client whatever databaseUrl they pass. A failed creation is not cached.
//
// If ctx ends while a creation is in flight the call returns ctx's error, but the creation
// carries on and is cached for the next caller.
func (c *Cache) GetOrCreate(ctx context.Context, tenantId, databaseUrl string) (*Client, error) {
	if tenantId == "" {
		return nil, errors.Wrap(ErrMissingTenantId)
	}
	if client := c.Get(tenantId); client != nil {
		return client, nil
	}

	ch := c.creating.DoChan(tenantId, func() (any, error) {
		// A flight for this key may have finished between the lookup above and DoChan.
		if client := c.Get(tenantId); client != nil {
			return client, nil
		}
		return c.create(ctx, tenantId, databaseUrl)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Client), nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.WithTenant(tenantId))
	}
}

func (c *Cache) create(ctx context.Context, tenantId, databaseUrl string) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.connectTimeout)
	defer cancel()

	start := time.Now()
	client, err := c.connect(ctx, tenantId, databaseUrl)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("tenantId", tenantId).Msg("failed to create tenant connection pool")
		if errors.Is(err, ErrInvalidDatabaseUrl) {
			return nil, errors.Wrap(err, errors.WithTenant(tenantId))
		}
		return nil, errors.Wrap(ErrConnectFailed, errors.WithCause(err), errors.WithTenant(tenantId))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = client.Close()
		return nil, errors.Wrap(ErrClosed)
	}
	c.clients[tenantId] = client

	logger.Ctx(ctx).Info().
		Str("tenantId", tenantId).
		Dur("duration", time.Since(start)).
		Int("tenantPools", len(c.clients)).
		Msg("created tenant connection pool")
	return client, nil
}

// connect turns a panicking connector into an error; inside a singleflight call the panic would
// be rethrown on a goroutine no caller can recover.
func (c *Cache) connect(ctx context.Context, tenantId, databaseUrl string) (client *Client, err error) {
	defer func() {
		if r := recover(); r != nil {
			client, err = nil, errors.Panic(r, debug.Stack())
		}
	}()
	return c.connector.Connect(ctx, tenantId, databaseUrl)
}

// Close closes every cached client. It is meant for shutdown; the cache refuses new clients
// afterwards.
func (c *Cache) Close() error {
	c.mu.Lock()
	clients := c.clients
	c.clients = map[string]*Client{}
	c.closed = true
	c.mu.Unlock()

	var firstErr error
	for tenantId, client := range clients {
		if err := client.Close(); err != nil {
			logger.Default().Warn().Err(err).Str("tenantId", tenantId).Msg("failed to close tenant connection pool")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
