package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/atinyakov/grillzstudio/internal/apperr"
	"github.com/atinyakov/grillzstudio/internal/models"
)

// PostgresAuthRepository implements the gateway's account and magic-link token store.
type PostgresAuthRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresAuthRepository creates an auth repository on db.
func NewPostgresAuthRepository(db *sql.DB) *PostgresAuthRepository {
	return &PostgresAuthRepository{DB: db}
}

func (r *PostgresAuthRepository) getUser(ctx context.Context, where string, arg any) (*models.AuthUser, error) {
	var u models.AuthUser
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM auth_users WHERE `+where+` = $1`, arg).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get auth user")
	}
	return &u, nil
}

// UserByEmail returns the account registered for email.
func (r *PostgresAuthRepository) UserByEmail(ctx context.Context, email string) (*models.AuthUser, error) {
	return r.getUser(ctx, "email", email)
}

// UserByID returns the account with the given uid.
func (r *PostgresAuthRepository) UserByID(ctx context.Context, id string) (*models.AuthUser, error) {
	return r.getUser(ctx, "id", id)
}

// EnsureUser returns the account for email, creating one without a password if needed.
func (r *PostgresAuthRepository) EnsureUser(ctx context.Context, email string) (*models.AuthUser, error) {
	var u models.AuthUser
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO auth_users (id, email) VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, email, password_hash, created_at
	`, uuid.NewString(), email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "ensure auth user")
	}
	return &u, nil
}

// SetPasswordHash replaces the password hash of the account with uid.
func (r *PostgresAuthRepository) SetPasswordHash(ctx context.Context, id string, hash []byte) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE auth_users SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return errors.Wrap(err, "set password hash")
	}
	return expectOne(res)
}

// CreateLoginToken stores a single-use magic-link token for email.
func (r *PostgresAuthRepository) CreateLoginToken(ctx context.Context, token, email string, expiresAt time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO login_tokens (token, email, expires_at) VALUES ($1, $2, $3)`,
		token, email, expiresAt)
	return errors.Wrap(err, "create login token")
}

// ConsumeLoginToken deletes an unexpired token and returns the email it was issued for.
func (r *PostgresAuthRepository) ConsumeLoginToken(ctx context.Context, token string, now time.Time) (string, error) {
	var email string
	err := r.DB.QueryRowContext(ctx,
		`DELETE FROM login_tokens WHERE token = $1 AND expires_at > $2 RETURNING email`,
		token, now).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "consume login token")
	}
	return email, nil
}
