package rbac

import "time"

// Role represents a named grouping of permissions assignable to users.
type Role struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission represents an atomic capability, named <verb>:<noun>.
type Permission struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// UserRole links a user to a role.
type UserRole struct {
	UserID    string
	RoleID    string
	CreatedAt time.Time
}

// RolePermission ties a permission to a role.
type RolePermission struct {
	RoleID       string
	PermissionID string
	CreatedAt    time.Time
}
