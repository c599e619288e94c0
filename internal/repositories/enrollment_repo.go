package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jordancrombie/wsim-sub002/internal/models"
)

type EnrollmentRepo struct {
	pool *pgxpool.Pool
}

func NewEnrollmentRepo(pool *pgxpool.Pool) *EnrollmentRepo {
	return &EnrollmentRepo{pool: pool}
}

// Upsert creates or refreshes the single enrollment per (user_id, bsim_id).
// Re-enrollment updates tokens in place, never a duplicate row.
func (r *EnrollmentRepo) Upsert(ctx context.Context, e *models.Enrollment) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO enrollments (user_id, bsim_id, issuer, bank_user_ref, wallet_credential_enc, refresh_token_enc, credential_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, bsim_id) DO UPDATE SET
			issuer = EXCLUDED.issuer,
			bank_user_ref = COALESCE(EXCLUDED.bank_user_ref, enrollments.bank_user_ref),
			wallet_credential_enc = EXCLUDED.wallet_credential_enc,
			refresh_token_enc = COALESCE(EXCLUDED.refresh_token_enc, enrollments.refresh_token_enc),
			credential_expires_at = EXCLUDED.credential_expires_at,
			updated_at = now()
		RETURNING id, created_at, updated_at
	`, e.UserID, e.BsimID, e.Issuer, e.BankUserRef, e.WalletCredentialEnc, e.RefreshTokenEnc, e.CredentialExpiresAt,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

func (r *EnrollmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Enrollment, error) {
	var e models.Enrollment
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, bsim_id, issuer, bank_user_ref, wallet_credential_enc, refresh_token_enc, credential_expires_at, created_at, updated_at
		FROM enrollments WHERE id = $1
	`, id).Scan(&e.ID, &e.UserID, &e.BsimID, &e.Issuer, &e.BankUserRef, &e.WalletCredentialEnc, &e.RefreshTokenEnc, &e.CredentialExpiresAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EnrollmentRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.EnrollmentWithCardCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT e.id, e.user_id, e.bsim_id, e.issuer, e.bank_user_ref, e.credential_expires_at, e.created_at, e.updated_at,
		       (SELECT count(*) FROM cards c WHERE c.enrollment_id = e.id AND c.is_active = true)
		FROM enrollments e
		WHERE e.user_id = $1
		ORDER BY e.created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var enrollments []models.EnrollmentWithCardCount
	for rows.Next() {
		var e models.EnrollmentWithCardCount
		if err := rows.Scan(&e.ID, &e.UserID, &e.BsimID, &e.Issuer, &e.BankUserRef, &e.CredentialExpiresAt, &e.CreatedAt, &e.UpdatedAt, &e.CardCount); err != nil {
			return nil, err
		}
		enrollments = append(enrollments, e)
	}
	return enrollments, rows.Err()
}

// Delete removes the enrollment; the cards foreign key cascades.
func (r *EnrollmentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM enrollments WHERE id = $1`, id)
	return err
}
