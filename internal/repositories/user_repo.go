package repositories

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jordancrombie/wsim-sub002/internal/models"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) Create(ctx context.Context, u *models.User) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, first_name, last_name, wallet_id, verification_level)
		VALUES (lower($1), $2, $3, $4, $5, $6)
		RETURNING id, email, created_at, updated_at
	`, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.WalletID, u.VerificationLevel,
	).Scan(&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt)
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, first_name, last_name, wallet_id, verification_level, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.WalletID, &u.VerificationLevel, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, first_name, last_name, wallet_id, verification_level, created_at, updated_at
		FROM users WHERE email = lower($1)
	`, strings.TrimSpace(email)).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.WalletID, &u.VerificationLevel, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateNames patches name fields only where the bank supplied them.
func (r *UserRepo) UpdateNames(ctx context.Context, id uuid.UUID, firstName, lastName *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET
			first_name = COALESCE($1, first_name),
			last_name = COALESCE($2, last_name),
			updated_at = now()
		WHERE id = $3
	`, firstName, lastName, id)
	return err
}

// SetPasswordIfUnset sets the password hash only when the user has none. A
// password is never overwritten through the enrollment flow.
func (r *UserRepo) SetPasswordIfUnset(ctx context.Context, id uuid.UUID, hash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET password_hash = $1, updated_at = now()
		WHERE id = $2 AND password_hash IS NULL
	`, hash, id)
	return err
}
