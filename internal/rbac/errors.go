package rbac

import "errors"

var (
	// ErrNotFound indicates a reference to an unknown user, role or permission.
	ErrNotFound = errors.New("rbac: not found")
	// ErrCycle indicates a reparent that would close a loop in the hierarchy.
	ErrCycle = errors.New("rbac: role hierarchy cycle")
	// ErrStoreUnavailable indicates a transient store failure; callers retry
	// with backoff, the core never retries on its own.
	ErrStoreUnavailable = errors.New("rbac: store unavailable")
	// ErrInconsistentGrant marks an assignment whose role no longer resolves
	// structurally. It is logged and the assignment skipped, never returned.
	ErrInconsistentGrant = errors.New("rbac: assignment references unknown role")
	// ErrDuplicate indicates a grant for an already active (user, role) or
	// (role, permission) pair. Callers treat it as a no-op.
	ErrDuplicate = errors.New("rbac: grant already active")
	// ErrMaxDepth indicates the ancestor walk exceeded the hierarchy depth
	// guard, which only happens with a corrupted parent chain.
	ErrMaxDepth = errors.New("rbac: role hierarchy too deep")
)
