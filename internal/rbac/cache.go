package rbac

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// CacheMetrics receives cache outcome notifications. Implementations must
// be safe for concurrent use; a nil CacheMetrics disables reporting.
type CacheMetrics interface {
	CacheHit()
	CacheMiss()
	CacheRecompute(shared bool)
}

type cacheEntry struct {
	version int64
	set     PermissionSet
}

// Cache memoizes resolved permission sets keyed by user and version stamp.
// An entry is fresh only while its stamp matches the global counter;
// anything older is discarded and recomputed. Concurrent lookups for the
// same stale user collapse into one recomputation.
type Cache struct {
	resolver *Resolver
	version  *Version
	metrics  CacheMetrics

	mu      sync.RWMutex
	entries map[int64]cacheEntry
	group   singleflight.Group
}

// NewCache constructs a Cache in front of the resolver.
func NewCache(resolver *Resolver, version *Version, metrics CacheMetrics) *Cache {
	return &Cache{
		resolver: resolver,
		version:  version,
		metrics:  metrics,
		entries:  make(map[int64]cacheEntry),
	}
}

// Resolve returns the effective permission set for userID, recomputing on
// staleness. The returned set is shared; callers must not mutate it.
func (c *Cache) Resolve(ctx context.Context, userID int64) (PermissionSet, error) {
	current := c.version.Current()

	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()
	if ok && entry.version >= current {
		if c.metrics != nil {
			c.metrics.CacheHit()
		}
		return entry.set, nil
	}
	if c.metrics != nil {
		c.metrics.CacheMiss()
	}

	resultChan := c.group.DoChan(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		// Re-check under the flight: a winner may already have refreshed
		// the entry while this caller queued.
		version := c.version.Current()
		c.mu.RLock()
		entry, ok := c.entries[userID]
		c.mu.RUnlock()
		if ok && entry.version >= version {
			return entry.set, nil
		}

		set, err := c.resolver.Resolve(ctx, userID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[userID] = cacheEntry{version: version, set: set}
		c.mu.Unlock()
		return set, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		if c.metrics != nil {
			c.metrics.CacheRecompute(res.Shared)
		}
		return res.Val.(PermissionSet), nil
	}
}

// Invalidate drops the cached set for one user.
func (c *Cache) Invalidate(userID int64) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

// InvalidateAll drops every cached set.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[int64]cacheEntry)
	c.mu.Unlock()
}
