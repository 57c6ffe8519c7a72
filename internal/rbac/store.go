package rbac

import (
	"context"
	"sync/atomic"
	"time"
)

// Version is the process-wide mutation counter. It is initialised once at
// startup, bumped exactly once per committed mutation to assignments,
// role-permission links or the hierarchy structure, and read without side
// effects by cache lookups.
type Version struct {
	n atomic.Int64
}

// NewVersion returns a counter starting at zero.
func NewVersion() *Version {
	return &Version{}
}

// Current returns the latest committed version.
func (v *Version) Current() int64 {
	return v.n.Load()
}

// Bump records a committed mutation and returns the new version.
func (v *Version) Bump() int64 {
	return v.n.Add(1)
}

// GrantParams describes a role assignment to create or reactivate.
type GrantParams struct {
	UserID    int64
	RoleID    int64
	GrantedBy int64
	ExpiresAt *time.Time
}

// RolePermissionParams describes a role-permission link to create or
// reactivate.
type RolePermissionParams struct {
	RoleID       int64
	PermissionID int64
	GrantedBy    int64
}

// Store is the narrow interface to the external persisted schema. The
// implementation must apply each mutation and its committed-mutation hook
// as one atomic unit; partial application is a correctness violation.
//
// Mutations report whether a row actually changed: reactivating or creating
// a grant returns true, re-granting an already active pair returns false
// and is a no-op.
type Store interface {
	GetActiveAssignments(ctx context.Context, userID int64) ([]RoleAssignment, error)
	GetRolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	GetRoleParent(ctx context.Context, roleID int64) (*int64, error)
	ListRoles(ctx context.Context) ([]Role, error)

	InsertAssignment(ctx context.Context, params GrantParams) (bool, error)
	RevokeAssignment(ctx context.Context, userID, roleID int64) (bool, error)
	InsertRolePermission(ctx context.Context, params RolePermissionParams) (bool, error)
	RevokeRolePermission(ctx context.Context, roleID, permissionID int64) (bool, error)
	SetRoleParent(ctx context.Context, roleID int64, parentID *int64) error
}
