package auth

import "time"

// User represents an authenticated user account.
type User struct {
	ID            string
	Email         string
	Name          string
	Image         string
	EmailVerified *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Identity is the profile returned by an external provider after a successful
// OAuth exchange. Provider plus ProviderAccountID uniquely identify the
// external account.
type Identity struct {
	Provider          string
	ProviderAccountID string
	Email             string
	Name              string
	Image             string
	EmailVerified     bool
}
