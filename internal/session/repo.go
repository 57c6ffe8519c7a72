package session

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists user_sessions audit rows. Rows are soft-state: ending
// a session flips is_active, the row stays for the audit trail.
type Repository interface {
	CreateSession(ctx context.Context, sess Session) error
	DeactivateSession(ctx context.Context, token string) error
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

// CreateSession inserts an active session row.
func (r *PGRepository) CreateSession(ctx context.Context, sess Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_sessions (user_id, token, created_at, expires_at, is_active)
		VALUES ($1, $2, $3, $4, TRUE)`,
		sess.UserID,
		sess.Token,
		pgtype.Timestamptz{Time: sess.IssuedAt.UTC(), Valid: true},
		pgtype.Timestamptz{Time: sess.ExpiresAt.UTC(), Valid: true},
	)
	return err
}

// DeactivateSession flips the row inactive. Unknown tokens are a no-op so
// revoke stays idempotent end to end.
func (r *PGRepository) DeactivateSession(ctx context.Context, token string) error {
	_, err := r.pool.Exec(ctx, `UPDATE user_sessions SET is_active = FALSE WHERE token = $1 AND is_active = TRUE`, token)
	return err
}

// PurgeExpired flips rows whose expiry passed before the cutoff. Run from
// the background worker; resolution never depends on it.
func (r *PGRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_sessions SET is_active = FALSE
		WHERE is_active = TRUE AND expires_at < $1`,
		pgtype.Timestamptz{Time: before.UTC(), Valid: true})
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
