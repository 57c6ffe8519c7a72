package rbac

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testClock = func() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newTestResolver(t *testing.T, store *memStore, roles ...Role) (*Resolver, *Graph) {
	t.Helper()
	g := NewGraph()
	for _, role := range roles {
		detached := role
		detached.ParentID = nil
		require.NoError(t, g.AddRole(detached))
	}
	for _, role := range roles {
		if role.ParentID != nil {
			require.NoError(t, g.SetParent(role.ID, *role.ParentID))
		}
	}
	return NewResolver(g, store, slog.Default(), testClock), g
}

func ptr[T any](v T) *T { return &v }

func TestResolveUnionsRoleAndAncestorPermissions(t *testing.T) {
	store := newMemStore()
	store.setRolePermissions(1, "profile.read", "profile.update")
	store.setRolePermissions(2, "content.moderate")
	store.addAssignment(RoleAssignment{UserID: 10, RoleID: 2, State: GrantActive})

	resolver, _ := newTestResolver(t, store,
		Role{ID: 1, Name: "user"},
		Role{ID: 2, Name: "moderator", ParentID: ptr(int64(1))},
	)

	set, err := resolver.Resolve(context.Background(), 10)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"profile.read", "profile.update", "content.moderate"}, set.Keys())
	require.False(t, set.Has("system.config"))
}

func TestResolveExcludesExpiredAssignmentSilently(t *testing.T) {
	store := newMemStore()
	store.setRolePermissions(1, "profile.read")
	store.setRolePermissions(2, "billing.manage")
	// Expired one second before the resolution clock, active state intact.
	store.addAssignment(RoleAssignment{
		UserID:    10,
		RoleID:    1,
		State:     GrantActive,
		ExpiresAt: ptr(testClock().Add(-time.Second)),
	})
	store.addAssignment(RoleAssignment{UserID: 10, RoleID: 2, State: GrantActive})

	resolver, _ := newTestResolver(t, store, Role{ID: 1}, Role{ID: 2})

	set, err := resolver.Resolve(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, []string{"billing.manage"}, set.Keys())
}

func TestResolveHonorsFutureExpiry(t *testing.T) {
	store := newMemStore()
	store.setRolePermissions(1, "profile.read")
	store.addAssignment(RoleAssignment{
		UserID:    10,
		RoleID:    1,
		State:     GrantActive,
		ExpiresAt: ptr(testClock().Add(time.Hour)),
	})

	resolver, _ := newTestResolver(t, store, Role{ID: 1})

	set, err := resolver.Resolve(context.Background(), 10)
	require.NoError(t, err)
	require.True(t, set.Has("profile.read"))
}

func TestResolveSkipsInconsistentGrant(t *testing.T) {
	store := newMemStore()
	store.setRolePermissions(1, "profile.read")
	store.addAssignment(RoleAssignment{UserID: 10, RoleID: 1, State: GrantActive})
	// References a role the graph does not know. Skipped, not an error.
	store.addAssignment(RoleAssignment{UserID: 10, RoleID: 99, State: GrantActive})

	resolver, _ := newTestResolver(t, store, Role{ID: 1})

	set, err := resolver.Resolve(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, []string{"profile.read"}, set.Keys())
}

func TestResolveIsIdempotentWithoutMutations(t *testing.T) {
	store := newMemStore()
	store.setRolePermissions(1, "profile.read", "profile.update")
	store.addAssignment(RoleAssignment{UserID: 10, RoleID: 1, State: GrantActive})

	resolver, _ := newTestResolver(t, store, Role{ID: 1})

	first, err := resolver.Resolve(context.Background(), 10)
	require.NoError(t, err)
	second, err := resolver.Resolve(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, first.Keys(), second.Keys())
}

func TestResolveNoAssignmentsYieldsEmptySet(t *testing.T) {
	store := newMemStore()
	resolver, _ := newTestResolver(t, store, Role{ID: 1})

	set, err := resolver.Resolve(context.Background(), 42)
	require.NoError(t, err)
	require.Empty(t, set.Keys())
}
