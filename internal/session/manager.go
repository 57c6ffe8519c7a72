package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Metrics receives session lifecycle notifications. A nil Metrics disables
// reporting.
type Metrics interface {
	SessionIssued()
	SessionValidated(outcome string)
	SessionRefreshed()
	SessionRevoked()
}

// Config tunes the Manager.
type Config struct {
	// TTL is the default session lifetime.
	TTL time.Duration
	// ExtendedTTL is the "remember me" lifetime. Zero falls back to TTL.
	ExtendedTTL time.Duration
	// Retention keeps expired and terminal payloads around past expiry so
	// that a stale token still resolves to ErrExpired or ErrReplay instead
	// of vanishing into ErrNotFound.
	Retention time.Duration
	// StoreTimeout caps every store round trip. Zero leaves bounding to the
	// caller's context.
	StoreTimeout time.Duration
}

// Manager issues, validates, refreshes and revokes session tokens backed by
// Redis, with soft-state audit rows in Postgres. Token rotation is a single
// Lua evaluation, so exactly one of two racing refreshes wins and the loser
// observes a replay.
type Manager struct {
	client  *redis.Client
	repo    Repository
	logger  *slog.Logger
	metrics Metrics
	cfg     Config
	now     func() time.Time
}

// NewManager constructs a Manager. repo and metrics may be nil; clock nil
// defaults to time.Now.
func NewManager(client *redis.Client, repo Repository, logger *slog.Logger, metrics Metrics, cfg Config, clock func() time.Time) *Manager {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ExtendedTTL <= 0 {
		cfg.ExtendedTTL = cfg.TTL
	}
	return &Manager{client: client, repo: repo, logger: logger, metrics: metrics, cfg: cfg, now: clock}
}

// revokeScript flips an existing session to revoked. Missing keys are left
// alone so revoke never fabricates state.
var revokeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('HSET', KEYS[1], 'state', 'revoked')
	return 1
end
return 0
`)

// rotateScript is the compare-and-swap core of Refresh: in one atomic
// evaluation it checks the old token is still active and unexpired, marks
// it rotated, and writes the successor. Returns the blocking state name
// when the swap loses.
var rotateScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
	return 'missing'
end
if state ~= 'active' then
	return state
end
local exp = tonumber(redis.call('HGET', KEYS[1], 'exp'))
if exp <= tonumber(ARGV[1]) then
	return 'expired'
end
local uid = redis.call('HGET', KEYS[1], 'uid')
redis.call('HSET', KEYS[1], 'state', 'rotated')
redis.call('HSET', KEYS[2], 'uid', uid, 'iat', ARGV[2], 'exp', ARGV[3], 'seen', ARGV[2], 'state', 'active', 'ttl', ARGV[5])
redis.call('PEXPIRE', KEYS[2], ARGV[4])
return 'ok'
`)

// Issue creates a new active session for the user.
func (m *Manager) Issue(ctx context.Context, userID int64, opts IssueOptions) (Session, error) {
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	ttl := m.cfg.TTL
	if opts.Extended {
		ttl = m.cfg.ExtendedTTL
	}
	now := m.now().UTC().Truncate(time.Millisecond)
	sess := Session{
		Token:      uuid.NewString(),
		UserID:     userID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
		LastSeenAt: now,
		State:      StateActive,
		TTL:        ttl,
	}

	err := m.client.HSet(ctx, m.key(sess.Token),
		"uid", sess.UserID,
		"iat", sess.IssuedAt.UnixMilli(),
		"exp", sess.ExpiresAt.UnixMilli(),
		"seen", sess.LastSeenAt.UnixMilli(),
		"state", string(StateActive),
		"ttl", ttl.Milliseconds(),
	).Err()
	if err != nil {
		return Session{}, m.storeErr("issue", err)
	}
	if err := m.client.PExpire(ctx, m.key(sess.Token), ttl+m.cfg.Retention).Err(); err != nil {
		return Session{}, m.storeErr("issue expire", err)
	}

	if m.repo != nil {
		if err := m.repo.CreateSession(ctx, sess); err != nil {
			// Roll the token back so a failed issue leaves nothing live.
			_ = m.client.Del(ctx, m.key(sess.Token)).Err()
			return Session{}, fmt.Errorf("session: persist audit row: %w", err)
		}
	}
	if m.metrics != nil {
		m.metrics.SessionIssued()
	}
	return sess, nil
}

// Validate checks the token and returns the owning session. On success the
// last-accessed time is touched. Validity is checked against the store on
// every call, never cached.
func (m *Manager) Validate(ctx context.Context, token string) (Session, error) {
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	sess, err := m.load(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.observeValidate("missing")
		} else {
			m.observeValidate("error")
		}
		return Session{}, err
	}
	switch {
	case sess.State == StateRevoked || sess.State == StateRotated:
		m.observeValidate("revoked")
		return Session{}, ErrRevoked
	case !sess.ExpiresAt.After(m.now()):
		m.observeValidate("expired")
		return Session{}, ErrExpired
	}

	seen := m.now().UTC().Truncate(time.Millisecond)
	if err := m.client.HSet(ctx, m.key(token), "seen", seen.UnixMilli()).Err(); err != nil {
		m.observeValidate("error")
		return Session{}, m.storeErr("touch", err)
	}
	sess.LastSeenAt = seen
	m.observeValidate("ok")
	return sess, nil
}

// Revoke terminates the session. Revoking an already revoked or unknown
// token is not an error.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	if err := revokeScript.Run(ctx, m.client, []string{m.key(token)}).Err(); err != nil {
		return m.storeErr("revoke", err)
	}
	if m.repo != nil {
		if err := m.repo.DeactivateSession(ctx, token); err != nil {
			m.logger.Warn("deactivate session audit row", slog.Any("error", err))
		}
	}
	if m.metrics != nil {
		m.metrics.SessionRevoked()
	}
	return nil
}

// Refresh rotates the token: the old one becomes terminal and a successor
// with a fresh expiry is returned. A concurrent refresh of the same token
// has exactly one winner; the loser gets ErrReplay.
func (m *Manager) Refresh(ctx context.Context, token string) (Session, error) {
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	old, err := m.load(ctx, token)
	if err != nil {
		return Session{}, err
	}

	// The successor inherits the lifetime class of the token it replaces, so
	// rotating an extended session never downgrades it to the base TTL.
	ttl := old.TTL
	if ttl <= 0 {
		ttl = m.cfg.TTL
	}
	now := m.now().UTC().Truncate(time.Millisecond)
	next := Session{
		Token:      uuid.NewString(),
		UserID:     old.UserID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
		LastSeenAt: now,
		State:      StateActive,
		TTL:        ttl,
	}

	result, err := rotateScript.Run(ctx, m.client,
		[]string{m.key(token), m.key(next.Token)},
		now.UnixMilli(),
		next.IssuedAt.UnixMilli(),
		next.ExpiresAt.UnixMilli(),
		(ttl + m.cfg.Retention).Milliseconds(),
		ttl.Milliseconds(),
	).Text()
	if err != nil {
		return Session{}, m.storeErr("rotate", err)
	}
	switch result {
	case "ok":
	case "missing":
		return Session{}, ErrNotFound
	case string(StateRotated):
		return Session{}, ErrReplay
	case string(StateRevoked):
		return Session{}, ErrRevoked
	case "expired":
		return Session{}, ErrExpired
	default:
		return Session{}, fmt.Errorf("session: unexpected rotation result %q", result)
	}

	if m.repo != nil {
		if err := m.repo.CreateSession(ctx, next); err != nil {
			m.logger.Warn("persist rotated session audit row", slog.Any("error", err))
		}
		if err := m.repo.DeactivateSession(ctx, token); err != nil {
			m.logger.Warn("deactivate rotated session audit row", slog.Any("error", err))
		}
	}
	if m.metrics != nil {
		m.metrics.SessionRefreshed()
	}
	return next, nil
}

func (m *Manager) load(ctx context.Context, token string) (Session, error) {
	fields, err := m.client.HGetAll(ctx, m.key(token)).Result()
	if err != nil {
		return Session{}, m.storeErr("load", err)
	}
	if len(fields) == 0 {
		return Session{}, ErrNotFound
	}

	uid, err := strconv.ParseInt(fields["uid"], 10, 64)
	if err != nil {
		return Session{}, fmt.Errorf("session: corrupt payload for token: %w", err)
	}
	iat, _ := strconv.ParseInt(fields["iat"], 10, 64)
	exp, _ := strconv.ParseInt(fields["exp"], 10, 64)
	seen, _ := strconv.ParseInt(fields["seen"], 10, 64)
	ttl, _ := strconv.ParseInt(fields["ttl"], 10, 64)

	return Session{
		Token:      token,
		UserID:     uid,
		IssuedAt:   time.UnixMilli(iat).UTC(),
		ExpiresAt:  time.UnixMilli(exp).UTC(),
		LastSeenAt: time.UnixMilli(seen).UTC(),
		State:      State(fields["state"]),
		TTL:        time.Duration(ttl) * time.Millisecond,
	}, nil
}

func (m *Manager) key(token string) string {
	return "session:" + token
}

func (m *Manager) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.cfg.StoreTimeout)
}

func (m *Manager) storeErr(op string, err error) error {
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func (m *Manager) observeValidate(outcome string) {
	if m.metrics != nil {
		m.metrics.SessionValidated(outcome)
	}
}
