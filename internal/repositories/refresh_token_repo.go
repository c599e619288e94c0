package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jordancrombie/wsim-sub002/internal/models"
)

type RefreshTokenRepo struct {
	pool *pgxpool.Pool
}

func NewRefreshTokenRepo(pool *pgxpool.Pool) *RefreshTokenRepo {
	return &RefreshTokenRepo{pool: pool}
}

func (r *RefreshTokenRepo) Create(ctx context.Context, t *models.RefreshToken) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO refresh_tokens (token_id, user_id, device_id, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, t.TokenID, t.UserID, t.DeviceID, t.ExpiresAt).Scan(&t.CreatedAt)
}

func (r *RefreshTokenRepo) Get(ctx context.Context, tokenID string, userID uuid.UUID, deviceID string) (*models.RefreshToken, error) {
	var t models.RefreshToken
	err := r.pool.QueryRow(ctx, `
		SELECT token_id, user_id, device_id, expires_at, revoked_at, created_at
		FROM refresh_tokens
		WHERE token_id = $1 AND user_id = $2 AND device_id = $3
	`, tokenID, userID, deviceID).Scan(&t.TokenID, &t.UserID, &t.DeviceID, &t.ExpiresAt, &t.RevokedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Rotate revokes the presented record and persists its replacement in one
// transaction. The conditional revoke makes concurrent redemptions of the same
// token lose the race instead of double-issuing.
func (r *RefreshTokenRepo) Rotate(ctx context.Context, oldTokenID string, next *models.RefreshToken) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE token_id = $1 AND revoked_at IS NULL
	`, oldTokenID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO refresh_tokens (token_id, user_id, device_id, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, next.TokenID, next.UserID, next.DeviceID, next.ExpiresAt).Scan(&next.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RevokeAllForDevice is the theft response: every live token in the (user,
// device) family is revoked.
func (r *RefreshTokenRepo) RevokeAllForDevice(ctx context.Context, userID uuid.UUID, deviceID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE user_id = $1 AND device_id = $2 AND revoked_at IS NULL
	`, userID, deviceID)
	return err
}

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID)
	return err
}
