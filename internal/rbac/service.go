package rbac

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/helmboard/helmboard/internal/platform/db"
	"github.com/helmboard/helmboard/internal/shared"
)

// RepositoryPort defines data access methods for RBAC.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
	UpdateRole(ctx context.Context, id, name, description string) (Role, error)
	DeleteRole(ctx context.Context, id string) error
	FindRolesByNames(ctx context.Context, names []string) ([]Role, error)
	RolesForUser(ctx context.Context, userID string) ([]Role, error)
	CountUserRoles(ctx context.Context, userID string) (int, error)
	AssignRole(ctx context.Context, userID, roleID string) error
	ReplaceUserRoles(ctx context.Context, userID string, roleIDs []string) error
	ListPermissions(ctx context.Context) ([]Permission, error)
	UpsertPermission(ctx context.Context, name, description string) (Permission, error)
	ListRolePermissions(ctx context.Context, roleID string) ([]Permission, error)
	ReplaceRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error
	UserEffectivePermissions(ctx context.Context, userID string) ([]string, error)
}

// Service orchestrates RBAC operations.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// RolesForUser resolves the role names currently assigned to the user. An
// unknown user id yields an empty set, never an error: authorization then
// fails closed downstream because no role check can pass.
func (s *Service) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	roles, err := s.repo.RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	return names, nil
}

// SetUserRoles atomically replaces the user's entire role set with the roles
// named in roleNames. Every name must resolve before any mutation happens;
// otherwise a *RolesNotFoundError enumerating the missing names is returned
// and the prior assignment is left intact. On success the user's fresh role
// list is returned, which is exactly the requested set.
func (s *Service) SetUserRoles(ctx context.Context, userID string, roleNames []string) ([]string, error) {
	requested := normalizeNames(roleNames)

	resolved, err := s.repo.FindRolesByNames(ctx, requested)
	if err != nil {
		return nil, err
	}
	if len(resolved) < len(requested) {
		found := make(map[string]struct{}, len(resolved))
		for _, role := range resolved {
			found[role.Name] = struct{}{}
		}
		var missing []string
		for _, name := range requested {
			if _, ok := found[name]; !ok {
				missing = append(missing, name)
			}
		}
		return nil, &RolesNotFoundError{Missing: missing}
	}

	roleIDs := make([]string, 0, len(resolved))
	for _, role := range resolved {
		roleIDs = append(roleIDs, role.ID)
	}
	if err := s.repo.ReplaceUserRoles(ctx, userID, roleIDs); err != nil {
		return nil, err
	}

	return s.RolesForUser(ctx, userID)
}

// EnsureDefaultRole grants the baseline role to a user with zero assignments.
// Called once per external-provider sign-in; users that already hold any role
// are left untouched, so an admin's manual assignment is never overridden.
// A missing baseline role is logged and ignored.
func (s *Service) EnsureDefaultRole(ctx context.Context, userID string) error {
	count, err := s.repo.CountUserRoles(ctx, userID)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	roles, err := s.repo.FindRolesByNames(ctx, []string{shared.RoleUser})
	if err != nil {
		return err
	}
	if len(roles) == 0 {
		s.logger.Warn("default role missing, sign-in proceeds without roles",
			slog.String("role", shared.RoleUser), slog.String("user_id", userID))
		return nil
	}

	if err := s.repo.AssignRole(ctx, userID, roles[0].ID); err != nil {
		// Two concurrent first sign-ins can race on the insert; the losing
		// side hits the (user_id, role_id) uniqueness constraint and the
		// assignment already exists.
		if db.IsUniqueViolation(err) {
			return nil
		}
		return err
	}
	return nil
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id string) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("rbac: role name required")
	}
	return s.repo.CreateRole(ctx, name, strings.TrimSpace(description))
}

// UpdateRole updates an existing role. The ADMIN role cannot be renamed.
func (s *Service) UpdateRole(ctx context.Context, id, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("rbac: role name required")
	}
	current, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if current.Name == shared.RoleAdmin && name != shared.RoleAdmin {
		return Role{}, ErrRoleProtected
	}
	return s.repo.UpdateRole(ctx, id, name, strings.TrimSpace(description))
}

// DeleteRole removes a role by ID. The ADMIN role is system-protected.
func (s *Service) DeleteRole(ctx context.Context, id string) error {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.Name == shared.RoleAdmin {
		return ErrRoleProtected
	}
	return s.repo.DeleteRole(ctx, id)
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// EnsurePermission upserts a permission ensuring the description is stored.
func (s *Service) EnsurePermission(ctx context.Context, name, description string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, errors.New("rbac: permission name required")
	}
	return s.repo.UpsertPermission(ctx, name, strings.TrimSpace(description))
}

// RolePermissions lists the permissions attached to a role.
func (s *Service) RolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return s.repo.ListRolePermissions(ctx, roleID)
}

// SetRolePermissions replaces the permission set attached to a role.
func (s *Service) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	return s.repo.ReplaceRolePermissions(ctx, roleID, dedupe(permissionIDs))
}

// EffectivePermissions returns deduplicated permission names for a user.
// Nothing in the access-control path consults these; they are read by the
// dashboard to decide which screens to render.
func (s *Service) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	return s.repo.UserEffectivePermissions(ctx, userID)
}

func normalizeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
