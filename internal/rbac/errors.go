package rbac

import (
	"errors"
	"strings"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// ErrRoleProtected is returned when a mutation targets a system-protected role.
var ErrRoleProtected = errors.New("rbac: role is system-protected")

// RolesNotFoundError reports role names that did not resolve during a
// reassignment. The operation has no effect when this error is returned.
type RolesNotFoundError struct {
	Missing []string
}

func (e *RolesNotFoundError) Error() string {
	return "rbac: roles not found: " + strings.Join(e.Missing, ", ")
}
