package shared

// Reserved role names. RoleAdmin is system-protected: it cannot be deleted or
// renamed through the admin API. RoleUser is the baseline granted on first
// sign-in.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// Core permission catalog, named <verb>:<noun>. Permissions are declarative
// data read by the dashboard to decide which admin screens to show; access
// control itself checks role names (see internal/rbac).
const (
	PermReadUsers  = "read:users"
	PermWriteUsers = "write:users"

	PermReadRoles  = "read:roles"
	PermWriteRoles = "write:roles"

	PermReadPermissions  = "read:permissions"
	PermWritePermissions = "write:permissions"
)

// CorePermissions lists every permission seeded for the admin surface.
func CorePermissions() []string {
	return []string{
		PermReadUsers,
		PermWriteUsers,
		PermReadRoles,
		PermWriteRoles,
		PermReadPermissions,
		PermWritePermissions,
	}
}
