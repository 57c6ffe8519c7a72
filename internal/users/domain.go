package users

import "time"

// Status is the account state owned by the external account-management
// collaborator. This core only reads it.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// User is the read-only identity view consumed by authorization and
// session issuance.
type User struct {
	ID        int64
	Email     string
	Name      string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanAuthenticate reports whether sessions may be issued for the account.
func (u User) CanAuthenticate() bool {
	return u.Status == StatusActive
}
