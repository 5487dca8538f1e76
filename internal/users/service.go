package users

import (
	"context"
	"errors"

	"github.com/helmboard/helmboard/internal/shared"
)

// ErrNotFound indicates that the requested user does not exist.
var ErrNotFound = errors.New("users: not found")

const maxPerPage = 100

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, offset, limit int) ([]UserWithRoles, error)
	CountUsers(ctx context.Context) (int, error)
	GetUser(ctx context.Context, id string) (UserWithRoles, error)
}

// Service handles user management reads.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListUsers returns one page of users with their role names.
func (s *Service) ListUsers(ctx context.Context, page, perPage int) ([]UserWithRoles, shared.Pagination, error) {
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	if page <= 0 {
		page = 1
	}
	total, err := s.repo.CountUsers(ctx)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	users, err := s.repo.ListUsers(ctx, (page-1)*perPage, perPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return users, shared.NewPagination(page, perPage, total), nil
}

// GetUser returns a single user with its role names.
func (s *Service) GetUser(ctx context.Context, id string) (UserWithRoles, error) {
	return s.repo.GetUser(ctx, id)
}
