package session

import "errors"

var (
	// ErrNotFound indicates an unknown token, including tokens whose
	// retention window has lapsed.
	ErrNotFound = errors.New("session: not found")
	// ErrExpired indicates a session past its expiry.
	ErrExpired = errors.New("session: expired")
	// ErrRevoked indicates a revoked or otherwise inactive session.
	ErrRevoked = errors.New("session: revoked")
	// ErrReplay indicates a refresh attempt with a token already superseded
	// by rotation.
	ErrReplay = errors.New("session: superseded token replayed")
	// ErrStoreUnavailable indicates a transient session store failure.
	ErrStoreUnavailable = errors.New("session: store unavailable")
)
