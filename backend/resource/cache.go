package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/maypok86/otter"
)

const (
	DefaultCacheTTL      = 5 * time.Minute
	defaultCacheCapacity = 1000
)

// CachedBackend memoizes inventory lookups of another Backend. Log and audit
// queries are time sensitive and always reach the delegate.
type CachedBackend struct {
	delegate Backend
	cache    otter.Cache[string, any]
}

var _ Backend = (*CachedBackend)(nil)

func NewCachedBackend(delegate Backend, ttl time.Duration) (*CachedBackend, error) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	cache, err := otter.MustBuilder[string, any](defaultCacheCapacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build resource cache: %w", err)
	}

	return &CachedBackend{
		delegate: delegate,
		cache:    cache,
	}, nil
}

func (c *CachedBackend) ListAccounts(ctx context.Context) ([]Account, error) {
	return cached(c, "accounts", func() ([]Account, error) {
		return c.delegate.ListAccounts(ctx)
	})
}

func (c *CachedBackend) ListRegions(ctx context.Context) ([]Region, error) {
	return cached(c, "regions", func() ([]Region, error) {
		return c.delegate.ListRegions(ctx)
	})
}

func (c *CachedBackend) QueryResources(ctx context.Context, query ResourceQuery) ([]Resource, error) {
	key, err := json.Marshal(query)
	if err != nil {
		return c.delegate.QueryResources(ctx, query)
	}

	return cached(c, "resources:"+string(key), func() ([]Resource, error) {
		return c.delegate.QueryResources(ctx, query)
	})
}

func (c *CachedBackend) QueryLogEvents(ctx context.Context, query LogQuery) (*LogQueryResult, error) {
	return c.delegate.QueryLogEvents(ctx, query)
}

func (c *CachedBackend) LookupAuditEvents(ctx context.Context, query AuditQuery) (*AuditQueryResult, error) {
	return c.delegate.LookupAuditEvents(ctx, query)
}

func (c *CachedBackend) Invalidate() {
	c.cache.Clear()
}

func (c *CachedBackend) Close() {
	c.cache.Close()
}

// cached returns a copy of the slice so callers cannot mutate cache state.
// Failures are never cached.
func cached[T any](c *CachedBackend, key string, load func() ([]T, error)) ([]T, error) {
	if value, ok := c.cache.Get(key); ok {
		if items, ok := value.([]T); ok {
			return slices.Clone(items), nil
		}
	}

	items, err := load()
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, slices.Clone(items))
	return items, nil
}
