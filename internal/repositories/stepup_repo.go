package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jordancrombie/wsim-sub002/internal/models"
)

type StepUpRepo struct {
	pool *pgxpool.Pool
}

func NewStepUpRepo(pool *pgxpool.Pool) *StepUpRepo {
	return &StepUpRepo{pool: pool}
}

const stepUpColumns = `
	id, agent_id, amount, currency, merchant_name, session_id, reason, trigger_type,
	requested_card_id, approved_card_id, status, expires_at, resolved_at, rejection_reason, created_at
`

func (r *StepUpRepo) scan(row interface{ Scan(dest ...any) error }, s *models.StepUpRequest) error {
	return row.Scan(&s.ID, &s.AgentID, &s.Amount, &s.Currency, &s.MerchantName, &s.SessionID, &s.Reason, &s.TriggerType,
		&s.RequestedCardID, &s.ApprovedCardID, &s.Status, &s.ExpiresAt, &s.ResolvedAt, &s.RejectionReason, &s.CreatedAt)
}

func (r *StepUpRepo) Create(ctx context.Context, s *models.StepUpRequest) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO step_up_requests (agent_id, amount, currency, merchant_name, session_id, reason, trigger_type, requested_card_id, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`, s.AgentID, s.Amount, s.Currency, s.MerchantName, s.SessionID, s.Reason, s.TriggerType, s.RequestedCardID, s.Status, s.ExpiresAt,
	).Scan(&s.ID, &s.CreatedAt)
}

func (r *StepUpRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.StepUpRequest, error) {
	var s models.StepUpRequest
	row := r.pool.QueryRow(ctx, `SELECT `+stepUpColumns+` FROM step_up_requests WHERE id = $1`, id)
	if err := r.scan(row, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListPendingByUser scopes to the caller's own agents.
func (r *StepUpRepo) ListPendingByUser(ctx context.Context, userID uuid.UUID) ([]models.StepUpRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.agent_id, s.amount, s.currency, s.merchant_name, s.session_id, s.reason, s.trigger_type,
		       s.requested_card_id, s.approved_card_id, s.status, s.expires_at, s.resolved_at, s.rejection_reason, s.created_at
		FROM step_up_requests s
		JOIN agents a ON a.id = s.agent_id
		WHERE a.user_id = $1 AND s.status = $2
		ORDER BY s.created_at DESC
	`, userID, models.StepUpStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []models.StepUpRequest
	for rows.Next() {
		var s models.StepUpRequest
		if err := r.scan(rows, &s); err != nil {
			return nil, err
		}
		requests = append(requests, s)
	}
	return requests, rows.Err()
}

func (r *StepUpRepo) MarkExpired(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE step_up_requests SET status = $1, resolved_at = now()
		WHERE id = $2 AND status = $3
	`, models.StepUpStatusExpired, id, models.StepUpStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *StepUpRepo) Reject(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE step_up_requests SET status = $1, rejection_reason = $2, resolved_at = now()
		WHERE id = $3 AND status IN ($4, $5)
	`, models.StepUpStatusRejected, reason, id, models.StepUpStatusPending, models.StepUpStatusExpired)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ApproveInTx applies the three-way approval batch atomically: create the
// agent transaction, mark the request approved with the chosen card, touch the
// agent's last-used timestamp.
func (r *StepUpRepo) ApproveInTx(ctx context.Context, s *models.StepUpRequest, txRecord *models.AgentTransaction) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE step_up_requests SET status = $1, approved_card_id = $2, resolved_at = now()
		WHERE id = $3 AND status = $4
	`, models.StepUpStatusApproved, txRecord.CardID, s.ID, models.StepUpStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO agent_transactions (agent_id, step_up_id, card_id, amount, currency, merchant_name, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, txRecord.AgentID, s.ID, txRecord.CardID, txRecord.Amount, txRecord.Currency, txRecord.MerchantName, txRecord.Status,
	).Scan(&txRecord.ID, &txRecord.CreatedAt)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE agents SET last_used_at = now() WHERE id = $1`, txRecord.AgentID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
