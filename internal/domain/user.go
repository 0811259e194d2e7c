package domain

import "time"

// User lifecycle states. Only active users may log in or be issued codes.
const (
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
)

// User represents an end user of the identity provider.
type User struct {
	ID            int64
	Email         string
	EmailVerified bool
	PasswordHash  string
	Name          string
	// RoleMask is the permission bitmask derived from the user's roles.
	// It caps what any client may be granted on this user's behalf.
	RoleMask  uint64
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}
