package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListUsers returns one page of users with their assigned role names.
func (r *Repository) ListUsers(ctx context.Context, offset, limit int) ([]UserWithRoles, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, COALESCE(u.email, ''), u.name, u.image, u.email_verified, u.created_at, u.updated_at,
		        COALESCE(ARRAY_AGG(ro.name ORDER BY ro.name) FILTER (WHERE ro.name IS NOT NULL), '{}')
		 FROM users u
		 LEFT JOIN user_roles ur ON ur.user_id = u.id
		 LEFT JOIN roles ro ON ro.id = ur.role_id
		 GROUP BY u.id
		 ORDER BY u.created_at
		 OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []UserWithRoles
	for rows.Next() {
		var user UserWithRoles
		if err := rows.Scan(&user.ID, &user.Email, &user.Name, &user.Image, &user.EmailVerified, &user.CreatedAt, &user.UpdatedAt, &user.Roles); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// CountUsers returns the total number of user accounts.
func (r *Repository) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// GetUser returns a single user with its role names.
func (r *Repository) GetUser(ctx context.Context, id string) (UserWithRoles, error) {
	var user UserWithRoles
	err := r.pool.QueryRow(ctx,
		`SELECT u.id, COALESCE(u.email, ''), u.name, u.image, u.email_verified, u.created_at, u.updated_at,
		        COALESCE(ARRAY_AGG(ro.name ORDER BY ro.name) FILTER (WHERE ro.name IS NOT NULL), '{}')
		 FROM users u
		 LEFT JOIN user_roles ur ON ur.user_id = u.id
		 LEFT JOIN roles ro ON ro.id = ur.role_id
		 WHERE u.id = $1
		 GROUP BY u.id`, id).
		Scan(&user.ID, &user.Email, &user.Name, &user.Image, &user.EmailVerified, &user.CreatedAt, &user.UpdatedAt, &user.Roles)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserWithRoles{}, ErrNotFound
		}
		return UserWithRoles{}, err
	}
	return user, nil
}
