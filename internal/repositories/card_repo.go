package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jordancrombie/wsim-sub002/internal/models"
)

type CardRepo struct {
	pool *pgxpool.Pool
}

func NewCardRepo(pool *pgxpool.Pool) *CardRepo {
	return &CardRepo{pool: pool}
}

// Upsert keeps exactly one card per (enrollment_id, bank_card_ref). An update
// refreshes mutable fields but never regenerates the wallet token.
func (r *CardRepo) Upsert(ctx context.Context, c *models.Card) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO cards (user_id, enrollment_id, network, card_type, last_four, cardholder_name,
		                   expiry_month, expiry_year, bank_card_ref, wallet_token, is_default, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (enrollment_id, bank_card_ref) DO UPDATE SET
			network = EXCLUDED.network,
			card_type = EXCLUDED.card_type,
			last_four = EXCLUDED.last_four,
			cardholder_name = COALESCE(EXCLUDED.cardholder_name, cards.cardholder_name),
			expiry_month = EXCLUDED.expiry_month,
			expiry_year = EXCLUDED.expiry_year,
			is_active = EXCLUDED.is_active,
			updated_at = now()
		RETURNING id, wallet_token, is_default, created_at, updated_at
	`, c.UserID, c.EnrollmentID, c.Network, c.CardType, c.LastFour, c.CardholderName,
		c.ExpiryMonth, c.ExpiryYear, c.BankCardRef, c.WalletToken, c.IsDefault, c.IsActive,
	).Scan(&c.ID, &c.WalletToken, &c.IsDefault, &c.CreatedAt, &c.UpdatedAt)
}

func (r *CardRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Card, error) {
	var c models.Card
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, enrollment_id, network, card_type, last_four, cardholder_name,
		       expiry_month, expiry_year, bank_card_ref, wallet_token, is_default, is_active, created_at, updated_at
		FROM cards WHERE id = $1
	`, id).Scan(&c.ID, &c.UserID, &c.EnrollmentID, &c.Network, &c.CardType, &c.LastFour, &c.CardholderName,
		&c.ExpiryMonth, &c.ExpiryYear, &c.BankCardRef, &c.WalletToken, &c.IsDefault, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListActiveByUser returns only active cards; soft-deleted cards are never
// surfaced.
func (r *CardRepo) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]models.Card, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, enrollment_id, network, card_type, last_four, cardholder_name,
		       expiry_month, expiry_year, bank_card_ref, wallet_token, is_default, is_active, created_at, updated_at
		FROM cards
		WHERE user_id = $1 AND is_active = true
		ORDER BY is_default DESC, created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []models.Card
	for rows.Next() {
		var c models.Card
		if err := rows.Scan(&c.ID, &c.UserID, &c.EnrollmentID, &c.Network, &c.CardType, &c.LastFour, &c.CardholderName,
			&c.ExpiryMonth, &c.ExpiryYear, &c.BankCardRef, &c.WalletToken, &c.IsDefault, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// SetDefault clears the user's current default and marks the given active card
// in one transaction, so at most one active card is ever default.
func (r *CardRepo) SetDefault(ctx context.Context, userID, cardID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE cards SET is_default = false, updated_at = now()
		WHERE user_id = $1 AND is_default = true
	`, userID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE cards SET is_default = true, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND is_active = true
	`, cardID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	return tx.Commit(ctx)
}

// Deactivate soft-deletes a card. When the removed card was the default, the
// most recently created remaining active card is promoted.
func (r *CardRepo) Deactivate(ctx context.Context, userID, cardID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var wasDefault bool
	err = tx.QueryRow(ctx, `
		SELECT is_default FROM cards WHERE id = $1 AND user_id = $2 AND is_active = true
	`, cardID, userID).Scan(&wasDefault)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE cards SET is_active = false, is_default = false, updated_at = now() WHERE id = $1
	`, cardID); err != nil {
		return err
	}

	if wasDefault {
		if _, err := tx.Exec(ctx, `
			UPDATE cards SET is_default = true, updated_at = now()
			WHERE id = (
				SELECT id FROM cards WHERE user_id = $1 AND is_active = true
				ORDER BY created_at DESC LIMIT 1
			)
		`, userID); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// PromoteLatestActive assigns a default when none exists, used after an
// enrollment removal takes its cards away.
func (r *CardRepo) PromoteLatestActive(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE cards SET is_default = true, updated_at = now()
		WHERE id = (
			SELECT id FROM cards WHERE user_id = $1 AND is_active = true
			ORDER BY created_at DESC LIMIT 1
		)
		AND NOT EXISTS (
			SELECT 1 FROM cards WHERE user_id = $1 AND is_active = true AND is_default = true
		)
	`, userID)
	return err
}
