package auth

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/helmboard/helmboard/internal/shared"
)

// RoleDirectory is the slice of the RBAC service the sign-in flow depends on.
type RoleDirectory interface {
	EnsureDefaultRole(ctx context.Context, userID string) error
	SetUserRoles(ctx context.Context, userID string, roleNames []string) ([]string, error)
	RolesForUser(ctx context.Context, userID string) ([]string, error)
	EffectivePermissions(ctx context.Context, userID string) ([]string, error)
}

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	roles  RoleDirectory
	logger *slog.Logger

	testPasswordHash string
	adminEmails      map[string]struct{}
}

// NewService constructs a new Service.
func NewService(repo Repository, roles RoleDirectory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, roles: roles, logger: logger}
}

// EnableTestCredentials switches on the test-only sign-in path. passwordHash
// is a bcrypt hash shared by all test identities; adminEmails is the
// allow-list that receives the admin role set.
func (s *Service) EnableTestCredentials(passwordHash string, adminEmails []string) {
	s.testPasswordHash = passwordHash
	s.adminEmails = make(map[string]struct{}, len(adminEmails))
	for _, email := range adminEmails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			s.adminEmails[email] = struct{}{}
		}
	}
}

// SignInExternal is called once per successful external-provider sign-in. It
// upserts the user and account records, then runs the default-role hook: a
// user with zero role assignments is granted the baseline role when it
// exists. The hook never fails the sign-in.
func (s *Service) SignInExternal(ctx context.Context, identity Identity) (*User, error) {
	user, err := s.repo.UpsertExternalUser(ctx, identity)
	if err != nil {
		return nil, err
	}
	if err := s.roles.EnsureDefaultRole(ctx, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

// SignInTestCredentials is the parallel, non-production sign-in used by
// automated tests. It bypasses the OAuth flow and performs its own role
// assignment: the admin allow-list receives ADMIN and USER, everyone else
// USER. Identities through this path are exempt from the default-role hook.
func (s *Service) SignInTestCredentials(ctx context.Context, email, password string) (*User, error) {
	if s.testPasswordHash == "" {
		return nil, shared.ErrInvalidCredentials
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.testPasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}

	user, err := s.repo.UpsertExternalUser(ctx, Identity{
		Provider:          "test-credentials",
		ProviderAccountID: email,
		Email:             email,
		Name:              email,
		EmailVerified:     true,
	})
	if err != nil {
		return nil, err
	}

	roleNames := []string{shared.RoleUser}
	if _, ok := s.adminEmails[email]; ok {
		roleNames = []string{shared.RoleAdmin, shared.RoleUser}
	}
	if _, err := s.roles.SetUserRoles(ctx, user.ID, roleNames); err != nil {
		return nil, err
	}
	return user, nil
}

// CurrentUser loads the user record for a session's user id.
func (s *Service) CurrentUser(ctx context.Context, userID string) (*User, error) {
	return s.repo.FindUserByID(ctx, userID)
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, token, userID string, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, token, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, token string) error {
	return s.repo.DeleteSession(ctx, token)
}
