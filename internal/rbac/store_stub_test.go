package rbac

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// memStore is an in-memory Store for tests. Mutations call the committed-
// mutation hook exactly when a row changed, mirroring the contract the
// Postgres store honors.
type memStore struct {
	mu          sync.Mutex
	roles       []Role
	assignments []RoleAssignment
	rolePerms   map[int64][]Permission
	onCommit    func()

	assignmentReads atomic.Int64
	// gate, when set, blocks GetActiveAssignments until closed.
	gate chan struct{}

	failReads error
}

func newMemStore() *memStore {
	return &memStore{rolePerms: make(map[int64][]Permission)}
}

var _ Store = (*memStore)(nil)

func (s *memStore) GetActiveAssignments(ctx context.Context, userID int64) ([]RoleAssignment, error) {
	s.assignmentReads.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads != nil {
		return nil, s.failReads
	}
	var out []RoleAssignment
	for _, a := range s.assignments {
		if a.UserID == userID && a.State == GrantActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) GetRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads != nil {
		return nil, s.failReads
	}
	return s.rolePerms[roleID], nil
}

func (s *memStore) GetRoleParent(ctx context.Context, roleID int64) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, role := range s.roles {
		if role.ID == roleID {
			return role.ParentID, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) ListRoles(ctx context.Context) ([]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Role, len(s.roles))
	copy(out, s.roles)
	return out, nil
}

func (s *memStore) InsertAssignment(ctx context.Context, params GrantParams) (bool, error) {
	s.mu.Lock()
	for i, a := range s.assignments {
		if a.UserID == params.UserID && a.RoleID == params.RoleID {
			if a.State == GrantActive {
				s.mu.Unlock()
				return false, nil
			}
			s.assignments[i].State = GrantActive
			s.assignments[i].GrantedBy = params.GrantedBy
			s.assignments[i].ExpiresAt = params.ExpiresAt
			s.mu.Unlock()
			s.committed()
			return true, nil
		}
	}
	s.assignments = append(s.assignments, RoleAssignment{
		UserID:    params.UserID,
		RoleID:    params.RoleID,
		GrantedBy: params.GrantedBy,
		GrantedAt: time.Now(),
		ExpiresAt: params.ExpiresAt,
		State:     GrantActive,
	})
	s.mu.Unlock()
	s.committed()
	return true, nil
}

func (s *memStore) RevokeAssignment(ctx context.Context, userID, roleID int64) (bool, error) {
	s.mu.Lock()
	for i, a := range s.assignments {
		if a.UserID == userID && a.RoleID == roleID && a.State == GrantActive {
			s.assignments[i].State = GrantRevoked
			s.mu.Unlock()
			s.committed()
			return true, nil
		}
	}
	s.mu.Unlock()
	return false, nil
}

func (s *memStore) InsertRolePermission(ctx context.Context, params RolePermissionParams) (bool, error) {
	s.mu.Lock()
	for _, p := range s.rolePerms[params.RoleID] {
		if p.ID == params.PermissionID {
			s.mu.Unlock()
			return false, nil
		}
	}
	s.rolePerms[params.RoleID] = append(s.rolePerms[params.RoleID], Permission{ID: params.PermissionID})
	s.mu.Unlock()
	s.committed()
	return true, nil
}

func (s *memStore) RevokeRolePermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	s.mu.Lock()
	perms := s.rolePerms[roleID]
	for i, p := range perms {
		if p.ID == permissionID {
			s.rolePerms[roleID] = append(perms[:i:i], perms[i+1:]...)
			s.mu.Unlock()
			s.committed()
			return true, nil
		}
	}
	s.mu.Unlock()
	return false, nil
}

func (s *memStore) SetRoleParent(ctx context.Context, roleID int64, parentID *int64) error {
	s.mu.Lock()
	for i, role := range s.roles {
		if role.ID == roleID {
			s.roles[i].ParentID = parentID
			s.mu.Unlock()
			s.committed()
			return nil
		}
	}
	s.mu.Unlock()
	return ErrNotFound
}

// setRolePermissions seeds permission keys for a role without going through
// the mutation path.
func (s *memStore) setRolePermissions(roleID int64, keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	perms := make([]Permission, 0, len(keys))
	for i, key := range keys {
		perms = append(perms, Permission{ID: roleID*100 + int64(i), Key: key})
	}
	s.rolePerms[roleID] = perms
}

// addAssignment seeds an assignment row without going through the mutation
// path and without firing the hook.
func (s *memStore) addAssignment(a RoleAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments = append(s.assignments, a)
}

func (s *memStore) committed() {
	if s.onCommit != nil {
		s.onCommit()
	}
}
