package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helmboard/helmboard/internal/platform/db"
	"github.com/helmboard/helmboard/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	UpsertExternalUser(ctx context.Context, identity Identity) (*User, error)
	FindUserByID(ctx context.Context, id string) (*User, error)
	CreateSession(ctx context.Context, token, userID string, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, token string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// UpsertExternalUser performs the adapter's job on sign-in: it links the
// external account to an existing user (matched by account, then by email) or
// creates a fresh user, and refreshes the stored profile either way.
func (r *PGRepository) UpsertExternalUser(ctx context.Context, identity Identity) (*User, error) {
	var user *User
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var userID string
		err := tx.QueryRow(ctx,
			`SELECT user_id FROM accounts WHERE provider = $1 AND provider_account_id = $2`,
			identity.Provider, identity.ProviderAccountID).Scan(&userID)
		switch {
		case err == nil:
			// Known account, fall through to the profile refresh.
		case errors.Is(err, pgx.ErrNoRows):
			userID, err = r.linkOrCreateUser(ctx, tx, identity)
			if err != nil {
				return err
			}
		default:
			return err
		}

		var verified *time.Time
		if identity.EmailVerified {
			now := time.Now()
			verified = &now
		}
		row := tx.QueryRow(ctx,
			`UPDATE users SET name = $2, image = $3,
			        email_verified = COALESCE(email_verified, $4),
			        updated_at = NOW()
			 WHERE id = $1
			 RETURNING id, COALESCE(email, ''), name, image, email_verified, created_at, updated_at`,
			userID, identity.Name, identity.Image, verified)
		user = &User{}
		return row.Scan(&user.ID, &user.Email, &user.Name, &user.Image, &user.EmailVerified, &user.CreatedAt, &user.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *PGRepository) linkOrCreateUser(ctx context.Context, tx pgx.Tx, identity Identity) (string, error) {
	var userID string
	if identity.Email != "" {
		err := tx.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, identity.Email).Scan(&userID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return "", err
		}
	}
	if userID == "" {
		userID = uuid.NewString()
		var email any
		if identity.Email != "" {
			email = identity.Email
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO users (id, email, name, image) VALUES ($1, $2, $3, $4)`,
			userID, email, identity.Name, identity.Image); err != nil {
			return "", err
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO accounts (id, user_id, provider, provider_account_id) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), userID, identity.Provider, identity.ProviderAccountID); err != nil {
		return "", err
	}
	return userID, nil
}

// FindUserByID fetches a user by ID.
func (r *PGRepository) FindUserByID(ctx context.Context, id string) (*User, error) {
	user := &User{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, COALESCE(email, ''), name, image, email_verified, created_at, updated_at FROM users WHERE id = $1`, id).
		Scan(&user.ID, &user.Email, &user.Name, &user.Image, &user.EmailVerified, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

// CreateSession persists a login session row for auditing and revocation.
func (r *PGRepository) CreateSession(ctx context.Context, token, userID string, expiresAt time.Time, ip, ua string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (token, user_id, expires_at, ip, ua) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
		 ON CONFLICT (token) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		token, userID, expiresAt.UTC(), ip, ua)
	return err
}

// DeleteSession removes a session record.
func (r *PGRepository) DeleteSession(ctx context.Context, token string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	return err
}

var _ Repository = (*PGRepository)(nil)
