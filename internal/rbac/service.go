package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/warden-auth/warden/internal/shared"
	"github.com/warden-auth/warden/internal/users"
)

// Service orchestrates the role graph, grant store, resolver and cache
// behind the authorization API. Every permission check fails closed: any
// error during resolution yields "denied".
type Service struct {
	graph    *Graph
	store    Store
	cache    *Cache
	version  *Version
	accounts users.Directory
	audit    *shared.AuditLogger
	logger   *slog.Logger
	timeout  time.Duration
}

// ServiceConfig collects Service dependencies. Store and Version are
// required; the rest default to no-ops.
type ServiceConfig struct {
	Store Store
	// Version is the global mutation counter shared with the store's
	// committed-mutation hook.
	Version *Version
	// Accounts gates resolution on account status: suspended and inactive
	// users resolve to an empty set. The lookup runs on every check, outside
	// the cache, so a suspension takes effect immediately.
	Accounts users.Directory
	Audit    *shared.AuditLogger
	Logger   *slog.Logger
	Metrics  CacheMetrics
	// Clock overrides time.Now for resolution; used by tests.
	Clock func() time.Time
	// StoreTimeout caps every store round trip. Zero disables the cap and
	// leaves bounding entirely to the caller's context.
	StoreTimeout time.Duration
}

// NewService constructs a Service with an empty role graph. Call Load to
// hydrate the graph from the store before serving checks.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	graph := NewGraph()
	resolver := NewResolver(graph, cfg.Store, logger, cfg.Clock)
	return &Service{
		graph:    graph,
		store:    cfg.Store,
		cache:    NewCache(resolver, cfg.Version, cfg.Metrics),
		version:  cfg.Version,
		accounts: cfg.Accounts,
		audit:    cfg.Audit,
		logger:   logger,
		timeout:  cfg.StoreTimeout,
	}
}

// Graph exposes the role graph for structural queries.
func (s *Service) Graph() *Graph {
	return s.graph
}

// Load hydrates the role graph from the store. Roles are registered first
// and parent edges applied after, so load order does not matter; an edge
// that fails validation is logged and skipped.
func (s *Service) Load(ctx context.Context) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return fmt.Errorf("rbac: load roles: %w", err)
	}
	for _, role := range roles {
		detached := role
		detached.ParentID = nil
		if err := s.graph.AddRole(detached); err != nil && !errors.Is(err, ErrDuplicate) {
			return fmt.Errorf("rbac: load role %d: %w", role.ID, err)
		}
	}
	for _, role := range roles {
		if role.ParentID == nil {
			continue
		}
		if err := s.graph.SetParent(role.ID, *role.ParentID); err != nil {
			s.logger.Warn("skipping invalid role parent edge",
				slog.Int64("role_id", role.ID),
				slog.Int64("parent_id", *role.ParentID),
				slog.Any("error", err))
		}
	}
	return nil
}

// ResolvePermissions returns the sorted effective permission keys for the
// user, served from the cache when fresh. A suspended or inactive account
// resolves to an empty set regardless of its grants.
func (s *Service) ResolvePermissions(ctx context.Context, userID int64) ([]string, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	active, err := s.accountActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !active {
		return []string{}, nil
	}

	set, err := s.cache.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return set.Keys(), nil
}

// HasPermission reports whether the user holds the permission key. Any
// resolution error is logged and reported as a denial.
func (s *Service) HasPermission(ctx context.Context, userID int64, key string) bool {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	active, err := s.accountActive(ctx, userID)
	if err != nil {
		s.logger.Warn("permission check failed closed",
			slog.Int64("user_id", userID),
			slog.String("permission", key),
			slog.Any("error", err))
		return false
	}
	if !active {
		return false
	}

	set, err := s.cache.Resolve(ctx, userID)
	if err != nil {
		s.logger.Warn("permission check failed closed",
			slog.Int64("user_id", userID),
			slog.String("permission", key),
			slog.Any("error", err))
		return false
	}
	return set.Has(key)
}

// accountActive reports whether the account may hold permissions right now.
// It bypasses the permission cache on purpose: account status lives outside
// the version-stamped tables, so only a per-call lookup makes a suspension
// bite before the session expires. A nil directory disables the gate.
func (s *Service) accountActive(ctx context.Context, userID int64) (bool, error) {
	if s.accounts == nil {
		return true, nil
	}
	user, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("rbac: account lookup: %w", err)
	}
	return user.Status == users.StatusActive, nil
}

// Grant assigns a role to a user. Re-granting an already active pair is a
// no-op; reactivating a revoked pair refreshes granter and expiry.
func (s *Service) Grant(ctx context.Context, params GrantParams) error {
	if !s.graph.Contains(params.RoleID) {
		return fmt.Errorf("%w: role %d", ErrNotFound, params.RoleID)
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	changed, err := s.store.InsertAssignment(ctx, params)
	if err != nil {
		return fmt.Errorf("rbac: grant: %w", err)
	}
	if !changed {
		return nil
	}
	s.cache.Invalidate(params.UserID)
	s.recordAudit(ctx, params.GrantedBy, "rbac.grant", "user_role",
		grantEntityID(params.UserID, params.RoleID), map[string]any{"expires_at": params.ExpiresAt})
	return nil
}

// RevokeGrant soft-revokes a role assignment. Revoking an assignment that
// is already revoked or absent is a no-op.
func (s *Service) RevokeGrant(ctx context.Context, userID, roleID, actorID int64) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	changed, err := s.store.RevokeAssignment(ctx, userID, roleID)
	if err != nil {
		return fmt.Errorf("rbac: revoke grant: %w", err)
	}
	if !changed {
		return nil
	}
	s.cache.Invalidate(userID)
	s.recordAudit(ctx, actorID, "rbac.revoke", "user_role", grantEntityID(userID, roleID), nil)
	return nil
}

// GrantRolePermission links a permission to a role.
func (s *Service) GrantRolePermission(ctx context.Context, params RolePermissionParams) error {
	if !s.graph.Contains(params.RoleID) {
		return fmt.Errorf("%w: role %d", ErrNotFound, params.RoleID)
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	changed, err := s.store.InsertRolePermission(ctx, params)
	if err != nil {
		return fmt.Errorf("rbac: grant role permission: %w", err)
	}
	if !changed {
		return nil
	}
	// A role-permission change affects every user reachable through the
	// role; rely on the version stamp rather than per-user invalidation.
	s.recordAudit(ctx, params.GrantedBy, "rbac.grant", "role_permission",
		grantEntityID(params.RoleID, params.PermissionID), nil)
	return nil
}

// RevokeRolePermission soft-revokes a role-permission link.
func (s *Service) RevokeRolePermission(ctx context.Context, roleID, permissionID, actorID int64) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	changed, err := s.store.RevokeRolePermission(ctx, roleID, permissionID)
	if err != nil {
		return fmt.Errorf("rbac: revoke role permission: %w", err)
	}
	if !changed {
		return nil
	}
	s.recordAudit(ctx, actorID, "rbac.revoke", "role_permission", grantEntityID(roleID, permissionID), nil)
	return nil
}

// SetRoleParent reparents a role in the graph and persists the edge. The
// cycle check runs before anything commits; a store failure rolls the
// in-memory edge back so structure and store stay aligned.
func (s *Service) SetRoleParent(ctx context.Context, roleID, parentID int64) error {
	previous, err := s.graph.Role(roleID)
	if err != nil {
		return err
	}
	if err := s.graph.SetParent(roleID, parentID); err != nil {
		return err
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.SetRoleParent(ctx, roleID, &parentID); err != nil {
		if previous.ParentID == nil {
			_ = s.graph.RemoveParent(roleID)
		} else {
			_ = s.graph.SetParent(roleID, *previous.ParentID)
		}
		return fmt.Errorf("rbac: set role parent: %w", err)
	}
	return nil
}

// Invalidate flushes the cached permission set for one user.
func (s *Service) Invalidate(userID int64) {
	s.cache.Invalidate(userID)
}

// InvalidateAll flushes every cached permission set.
func (s *Service) InvalidateAll() {
	s.cache.InvalidateAll()
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func grantEntityID(a, b int64) string {
	return strconv.FormatInt(a, 10) + ":" + strconv.FormatInt(b, 10)
}
