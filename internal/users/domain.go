package users

import "time"

// User represents a user account for management. Accounts are created and
// updated by the sign-in flow; the admin surface only reads and reassigns
// roles.
type User struct {
	ID            string
	Email         string
	Name          string
	Image         string
	EmailVerified *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UserWithRoles pairs a user with its assigned role names.
type UserWithRoles struct {
	User
	Roles []string
}
