package rbac

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, store *memStore, version *Version) *Cache {
	t.Helper()
	resolver, _ := newTestResolver(t, store, Role{ID: 1})
	return NewCache(resolver, version, nil)
}

func TestCacheServesFreshEntryWithoutRecompute(t *testing.T) {
	store := newMemStore()
	store.setRolePermissions(1, "profile.read")
	store.addAssignment(RoleAssignment{UserID: 10, RoleID: 1, State: GrantActive})
	version := NewVersion()
	cache := newTestCache(t, store, version)

	_, err := cache.Resolve(context.Background(), 10)
	require.NoError(t, err)
	reads := store.assignmentReads.Load()

	set, err := cache.Resolve(context.Background(), 10)
	require.NoError(t, err)
	require.True(t, set.Has("profile.read"))
	require.Equal(t, reads, store.assignmentReads.Load(), "fresh entry must not hit the store")
}

func TestCacheRecomputesAfterVersionBump(t *testing.T) {
	store := newMemStore()
	store.setRolePermissions(1, "profile.read")
	store.addAssignment(RoleAssignment{UserID: 10, RoleID: 1, State: GrantActive})
	version := NewVersion()
	cache := newTestCache(t, store, version)

	set, err := cache.Resolve(context.Background(), 10)
	require.NoError(t, err)
	require.False(t, set.Has("profile.update"))

	// A committed mutation bumps the counter; the cached stamp is now stale.
	store.setRolePermissions(1, "profile.read", "profile.update")
	version.Bump()

	set, err = cache.Resolve(context.Background(), 10)
	require.NoError(t, err)
	require.True(t, set.Has("profile.update"))
}

func TestCacheSingleFlightCollapsesConcurrentLookups(t *testing.T) {
	store := newMemStore()
	store.setRolePermissions(1, "profile.read")
	store.addAssignment(RoleAssignment{UserID: 10, RoleID: 1, State: GrantActive})
	store.gate = make(chan struct{})
	version := NewVersion()
	cache := newTestCache(t, store, version)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.Resolve(context.Background(), 10)
		}(i)
	}

	// Let the callers pile up behind the gated store read, then release.
	close(store.gate)
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	require.Equal(t, int64(1), store.assignmentReads.Load(), "concurrent lookups must collapse into one recomputation")
}

func TestCacheInvalidateSingleUser(t *testing.T) {
	store := newMemStore()
	store.setRolePermissions(1, "profile.read")
	store.addAssignment(RoleAssignment{UserID: 10, RoleID: 1, State: GrantActive})
	version := NewVersion()
	cache := newTestCache(t, store, version)

	_, err := cache.Resolve(context.Background(), 10)
	require.NoError(t, err)
	reads := store.assignmentReads.Load()

	cache.Invalidate(10)
	_, err = cache.Resolve(context.Background(), 10)
	require.NoError(t, err)
	require.Greater(t, store.assignmentReads.Load(), reads)
}

func TestCacheInvalidateAll(t *testing.T) {
	store := newMemStore()
	store.setRolePermissions(1, "profile.read")
	store.addAssignment(RoleAssignment{UserID: 10, RoleID: 1, State: GrantActive})
	store.addAssignment(RoleAssignment{UserID: 11, RoleID: 1, State: GrantActive})
	version := NewVersion()
	cache := newTestCache(t, store, version)

	_, err := cache.Resolve(context.Background(), 10)
	require.NoError(t, err)
	_, err = cache.Resolve(context.Background(), 11)
	require.NoError(t, err)
	reads := store.assignmentReads.Load()

	cache.InvalidateAll()
	_, err = cache.Resolve(context.Background(), 10)
	require.NoError(t, err)
	_, err = cache.Resolve(context.Background(), 11)
	require.NoError(t, err)
	require.Equal(t, reads+2, store.assignmentReads.Load())
}

func TestCachePropagatesResolverErrors(t *testing.T) {
	store := newMemStore()
	store.failReads = ErrStoreUnavailable
	version := NewVersion()
	cache := newTestCache(t, store, version)

	_, err := cache.Resolve(context.Background(), 10)
	require.ErrorIs(t, err, ErrStoreUnavailable)

	// Errors are not cached: a recovered store serves the next lookup.
	store.mu.Lock()
	store.failReads = nil
	store.mu.Unlock()
	_, err = cache.Resolve(context.Background(), 10)
	require.NoError(t, err)
}
