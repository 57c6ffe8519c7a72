package rbac

import "time"

// GrantState is the lifecycle state of an assignment or role-permission
// link. Rows are never deleted; revocation flips the state and keeps the
// row as audit history.
type GrantState string

const (
	GrantActive  GrantState = "active"
	GrantRevoked GrantState = "revoked"
)

// Role is a node in the role hierarchy. ParentID is a lookup key into the
// role table, not an ownership edge; a nil parent marks a root.
type Role struct {
	ID       int64
	Name     string
	Level    int
	ParentID *int64
}

// Permission is an atomic capability identified by a "resource.action" key.
type Permission struct {
	ID       int64
	Key      string
	Category string
}

// RoleAssignment ties a user to a role. An assignment contributes to the
// effective set only while State is GrantActive and ExpiresAt, when set,
// lies in the future.
type RoleAssignment struct {
	UserID    int64
	RoleID    int64
	GrantedBy int64
	GrantedAt time.Time
	ExpiresAt *time.Time
	State     GrantState
}

// RolePermission links a permission to a role with the same soft-revoke
// discipline as RoleAssignment.
type RolePermission struct {
	RoleID       int64
	PermissionID int64
	GrantedBy    int64
	State        GrantState
}

// Effective reports whether the assignment contributes to resolution at
// the given instant. Expired assignments are excluded silently, never
// surfaced as errors.
func (a RoleAssignment) Effective(now time.Time) bool {
	if a.State != GrantActive {
		return false
	}
	if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
		return false
	}
	return true
}
