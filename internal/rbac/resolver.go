package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// PermissionSet is a deduplicated set of permission keys.
type PermissionSet map[string]struct{}

// Has reports membership of a permission key.
func (s PermissionSet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Keys returns the sorted permission keys.
func (s PermissionSet) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Resolver computes the effective permission set for a user from the role
// graph and the grant store. Resolution is a pure function of store state
// plus the clock; it never mutates anything.
type Resolver struct {
	graph  *Graph
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver constructs a Resolver. A nil clock defaults to time.Now.
func NewResolver(graph *Graph, store Store, logger *slog.Logger, clock func() time.Time) *Resolver {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{graph: graph, store: store, logger: logger, now: clock}
}

// Resolve returns the effective permission set for userID at the current
// clock reading. Expired assignments are excluded silently. Assignments
// whose role no longer resolves structurally are skipped and logged, never
// surfaced to the caller.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (PermissionSet, error) {
	assignments, err := r.store.GetActiveAssignments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve user %d: %w", userID, err)
	}

	now := r.now()
	roleIDs := make(map[int64]struct{})
	for _, assignment := range assignments {
		if !assignment.Effective(now) {
			continue
		}
		if !r.graph.Contains(assignment.RoleID) {
			r.logger.Warn("skipping inconsistent grant",
				slog.Int64("user_id", userID),
				slog.Int64("role_id", assignment.RoleID),
				slog.Any("error", ErrInconsistentGrant))
			continue
		}
		roleIDs[assignment.RoleID] = struct{}{}

		ancestors, err := r.graph.Ancestors(assignment.RoleID)
		if err != nil {
			return nil, fmt.Errorf("resolve user %d: %w", userID, err)
		}
		for ancestor := range ancestors {
			roleIDs[ancestor.ID] = struct{}{}
		}
	}

	set := make(PermissionSet)
	for roleID := range roleIDs {
		perms, err := r.store.GetRolePermissions(ctx, roleID)
		if err != nil {
			return nil, fmt.Errorf("resolve user %d role %d: %w", userID, roleID, err)
		}
		for _, perm := range perms {
			set[perm.Key] = struct{}{}
		}
	}
	return set, nil
}
