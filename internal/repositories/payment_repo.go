package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jordancrombie/wsim-sub002/internal/models"
)

type PaymentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

const paymentColumns = `
	id, merchant_id, order_id, description, order_details, amount, currency, return_url,
	status, user_id, card_id, bank_card_token_enc, wallet_card_token, redemption_token,
	expires_at, approved_at, cancelled_at, completed_at, created_at, updated_at
`

func (r *PaymentRepo) scan(row interface{ Scan(dest ...any) error }, p *models.PaymentRequest) error {
	var detailsBytes []byte
	err := row.Scan(&p.ID, &p.MerchantID, &p.OrderID, &p.Description, &detailsBytes, &p.Amount, &p.Currency, &p.ReturnURL,
		&p.Status, &p.UserID, &p.CardID, &p.BankCardTokenEnc, &p.WalletCardToken, &p.RedemptionToken,
		&p.ExpiresAt, &p.ApprovedAt, &p.CancelledAt, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return err
	}
	if len(detailsBytes) > 0 {
		var details models.OrderDetails
		if err := json.Unmarshal(detailsBytes, &details); err == nil {
			p.OrderDetails = &details
		}
	}
	return nil
}

func (r *PaymentRepo) Create(ctx context.Context, p *models.PaymentRequest) error {
	var detailsBytes []byte
	if p.OrderDetails != nil {
		detailsBytes, _ = json.Marshal(p.OrderDetails)
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO payment_requests (merchant_id, order_id, description, order_details, amount, currency, return_url, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`, p.MerchantID, p.OrderID, p.Description, detailsBytes, p.Amount, p.Currency, p.ReturnURL, p.Status, p.ExpiresAt,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentRequest, error) {
	var p models.PaymentRequest
	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payment_requests WHERE id = $1`, id)
	if err := r.scan(row, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CancelPendingByMerchantOrder enforces the single-pending-per-(merchant,
// order) invariant: creating a new request first cancels any prior pending one.
func (r *PaymentRepo) CancelPendingByMerchantOrder(ctx context.Context, merchantID, orderID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payment_requests SET status = $1, cancelled_at = now(), updated_at = now()
		WHERE merchant_id = $2 AND order_id = $3 AND status = $4
	`, models.PaymentStatusCancelled, merchantID, orderID, models.PaymentStatusPending)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// BindUser binds the first viewer. The conditional write makes concurrent
// first views race safely; the caller re-reads to learn who won.
func (r *PaymentRepo) BindUser(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payment_requests SET user_id = $1, updated_at = now()
		WHERE id = $2 AND user_id IS NULL AND status = $3
	`, userID, id, models.PaymentStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkExpired transitions to expired only from the given status.
func (r *PaymentRepo) MarkExpired(ctx context.Context, id uuid.UUID, fromStatus string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payment_requests SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, models.PaymentStatusExpired, id, fromStatus)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

type ApproveParams struct {
	CardID           uuid.UUID
	BankCardTokenEnc []byte
	WalletCardToken  string
	RedemptionToken  string
	NewExpiresAt     time.Time
}

// Approve transitions pending -> approved, storing the tokens and the extended
// deadline. Returns false when the request was no longer pending.
func (r *PaymentRepo) Approve(ctx context.Context, id uuid.UUID, params ApproveParams) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payment_requests SET
			status = $1, card_id = $2, bank_card_token_enc = $3, wallet_card_token = $4,
			redemption_token = $5, expires_at = $6, approved_at = now(), updated_at = now()
		WHERE id = $7 AND status = $8
	`, models.PaymentStatusApproved, params.CardID, params.BankCardTokenEnc, params.WalletCardToken,
		params.RedemptionToken, params.NewExpiresAt, id, models.PaymentStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Complete transitions approved -> completed and invalidates the one-time
// redemption token.
func (r *PaymentRepo) Complete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payment_requests SET status = $1, redemption_token = NULL, completed_at = now(), updated_at = now()
		WHERE id = $2 AND status = $3
	`, models.PaymentStatusCompleted, id, models.PaymentStatusApproved)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Cancel transitions pending -> cancelled. Cancelling a non-pending request is
// an error surfaced by the false return, not a no-op.
func (r *PaymentRepo) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payment_requests SET status = $1, cancelled_at = now(), updated_at = now()
		WHERE id = $2 AND status = $3
	`, models.PaymentStatusCancelled, id, models.PaymentStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PaymentRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.PaymentRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+` FROM payment_requests
		WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []models.PaymentRequest
	for rows.Next() {
		var p models.PaymentRequest
		if err := r.scan(rows, &p); err != nil {
			return nil, err
		}
		requests = append(requests, p)
	}
	return requests, rows.Err()
}
