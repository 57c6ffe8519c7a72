package session

import "time"

// State is the lifecycle state of a session token.
type State string

const (
	// StateActive marks a live session.
	StateActive State = "active"
	// StateRevoked marks an explicitly revoked session. Terminal.
	StateRevoked State = "revoked"
	// StateRotated marks a session superseded by a refresh. Terminal; a
	// rotated token presented again is a replay.
	StateRotated State = "rotated"
	// StateExpired is a derived state: an Active session past its expiry.
	// It is never written to the store, expiry is always computed against
	// the clock at check time.
	StateExpired State = "expired"
)

// Session is a validated authentication session.
type Session struct {
	Token      string    `json:"token"`
	UserID     int64     `json:"user_id"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	State      State     `json:"-"`
	// TTL is the lifetime class the session was issued with. Refresh reuses
	// it so an extended session stays extended across rotations.
	TTL time.Duration `json:"-"`
}

// IssueOptions tunes session creation.
type IssueOptions struct {
	// Extended selects the long-lived TTL, the "remember me" path.
	Extended bool
}
