package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warden-auth/warden/internal/platform/db"
)

const pgUniqueViolation = "23505"

// PGStore implements Store over the contract tables (roles, permissions,
// user_roles, role_permissions). Every mutation runs in a single
// transaction; the committed-mutation hook fires after commit, once, and
// only when a row actually changed.
type PGStore struct {
	pool     *pgxpool.Pool
	onCommit func()
}

// NewPGStore constructs a PGStore. onCommit is the committed-mutation hook,
// typically Version.Bump; nil disables it.
func NewPGStore(pool *pgxpool.Pool, onCommit func()) *PGStore {
	return &PGStore{pool: pool, onCommit: onCommit}
}

var _ Store = (*PGStore)(nil)

// GetActiveAssignments returns the state-active assignment rows for a user.
// Expiry filtering happens at resolution time so that clocks stay injectable.
func (s *PGStore) GetActiveAssignments(ctx context.Context, userID int64) ([]RoleAssignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, role_id, granted_by, granted_at, expires_at
		FROM user_roles
		WHERE user_id = $1 AND is_active = TRUE`, userID)
	if err != nil {
		return nil, storeErr("list assignments", err)
	}
	defer rows.Close()

	var assignments []RoleAssignment
	for rows.Next() {
		assignment := RoleAssignment{State: GrantActive}
		if err := rows.Scan(&assignment.UserID, &assignment.RoleID, &assignment.GrantedBy, &assignment.GrantedAt, &assignment.ExpiresAt); err != nil {
			return nil, storeErr("scan assignment", err)
		}
		assignments = append(assignments, assignment)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list assignments", err)
	}
	return assignments, nil
}

// GetRolePermissions returns the active permissions linked to a role.
func (s *PGStore) GetRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.perm_key, p.category
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1 AND rp.is_active = TRUE`, roleID)
	if err != nil {
		return nil, storeErr("list role permissions", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Key, &perm.Category); err != nil {
			return nil, storeErr("scan permission", err)
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list role permissions", err)
	}
	return perms, nil
}

// GetRoleParent returns the parent key of a role, nil for roots.
func (s *PGStore) GetRoleParent(ctx context.Context, roleID int64) (*int64, error) {
	var parentID *int64
	err := s.pool.QueryRow(ctx, `SELECT parent_role_id FROM roles WHERE id = $1`, roleID).Scan(&parentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: role %d", ErrNotFound, roleID)
		}
		return nil, storeErr("get role parent", err)
	}
	return parentID, nil
}

// ListRoles returns every role row for graph hydration.
func (s *PGStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, level, parent_role_id FROM roles ORDER BY id`)
	if err != nil {
		return nil, storeErr("list roles", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Level, &role.ParentID); err != nil {
			return nil, storeErr("scan role", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list roles", err)
	}
	return roles, nil
}

// InsertAssignment creates or reactivates a (user, role) assignment. A pair
// that is already active is left untouched and reported unchanged.
func (s *PGStore) InsertAssignment(ctx context.Context, params GrantParams) (bool, error) {
	changed := false
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE user_roles
			SET is_active = TRUE, granted_by = $3, granted_at = $4, expires_at = $5
			WHERE user_id = $1 AND role_id = $2 AND is_active = FALSE`,
			params.UserID, params.RoleID, params.GrantedBy, time.Now().UTC(), params.ExpiresAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			changed = true
			return nil
		}

		var exists bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = $1 AND role_id = $2)`,
			params.UserID, params.RoleID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			// Already active: re-granting is a no-op by invariant.
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO user_roles (user_id, role_id, granted_by, granted_at, expires_at, is_active)
			VALUES ($1, $2, $3, $4, $5, TRUE)`,
			params.UserID, params.RoleID, params.GrantedBy, time.Now().UTC(), params.ExpiresAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				// Lost a race against a concurrent grant of the same pair.
				return nil
			}
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, storeErr("insert assignment", err)
	}
	s.committed(changed)
	return changed, nil
}

// RevokeAssignment soft-revokes a (user, role) assignment.
func (s *PGStore) RevokeAssignment(ctx context.Context, userID, roleID int64) (bool, error) {
	changed := false
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE user_roles SET is_active = FALSE
			WHERE user_id = $1 AND role_id = $2 AND is_active = TRUE`, userID, roleID)
		if err != nil {
			return err
		}
		changed = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, storeErr("revoke assignment", err)
	}
	s.committed(changed)
	return changed, nil
}

// InsertRolePermission creates or reactivates a (role, permission) link.
func (s *PGStore) InsertRolePermission(ctx context.Context, params RolePermissionParams) (bool, error) {
	changed := false
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE role_permissions
			SET is_active = TRUE, granted_by = $3
			WHERE role_id = $1 AND permission_id = $2 AND is_active = FALSE`,
			params.RoleID, params.PermissionID, params.GrantedBy)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			changed = true
			return nil
		}

		var exists bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM role_permissions WHERE role_id = $1 AND permission_id = $2)`,
			params.RoleID, params.PermissionID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO role_permissions (role_id, permission_id, granted_by, is_active)
			VALUES ($1, $2, $3, TRUE)`,
			params.RoleID, params.PermissionID, params.GrantedBy)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return nil
			}
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, storeErr("insert role permission", err)
	}
	s.committed(changed)
	return changed, nil
}

// RevokeRolePermission soft-revokes a (role, permission) link.
func (s *PGStore) RevokeRolePermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	changed := false
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE role_permissions SET is_active = FALSE
			WHERE role_id = $1 AND permission_id = $2 AND is_active = TRUE`, roleID, permissionID)
		if err != nil {
			return err
		}
		changed = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, storeErr("revoke role permission", err)
	}
	s.committed(changed)
	return changed, nil
}

// SetRoleParent persists a hierarchy edge. Cycle validation is the graph's
// responsibility and happens before this call.
func (s *PGStore) SetRoleParent(ctx context.Context, roleID int64, parentID *int64) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE roles SET parent_role_id = $2 WHERE id = $1`, roleID, parentID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: role %d", ErrNotFound, roleID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return storeErr("set role parent", err)
	}
	s.committed(true)
	return nil
}

func (s *PGStore) committed(changed bool) {
	if changed && s.onCommit != nil {
		s.onCommit()
	}
}

// storeErr tags transient store failures so callers can retry with backoff.
// Domain sentinels pass through untouched.
func storeErr(op string, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
