package tiers

import (
	"context"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedResolver decorates a Resolver with an expiring LRU cache so repeated
// batches of one import do not re-query the tier source
type CachedResolver struct {
	inner Resolver
	cache *lru.LRU[uuid.UUID, *Plan]
}

// NewCachedResolver creates a caching decorator. Entries expire after ttl so
// plan upgrades take effect without a restart.
func NewCachedResolver(inner Resolver, size int, ttl time.Duration) *CachedResolver {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedResolver{
		inner: inner,
		cache: lru.NewLRU[uuid.UUID, *Plan](size, nil, ttl),
	}
}

// Resolve returns the cached plan or falls through to the inner resolver
func (r *CachedResolver) Resolve(ctx context.Context, orgID uuid.UUID) (*Plan, error) {
	if plan, ok := r.cache.Get(orgID); ok {
		return plan, nil
	}

	plan, err := r.inner.Resolve(ctx, orgID)
	if err != nil {
		return nil, err
	}
	r.cache.Add(orgID, plan)
	return plan, nil
}

// Invalidate drops the cached plan for one organization
func (r *CachedResolver) Invalidate(orgID uuid.UUID) {
	r.cache.Remove(orgID)
}
