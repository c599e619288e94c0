package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jordancrombie/wsim-sub002/internal/models"
)

type AgentRepo struct {
	pool *pgxpool.Pool
}

func NewAgentRepo(pool *pgxpool.Pool) *AgentRepo {
	return &AgentRepo{pool: pool}
}

func (r *AgentRepo) Create(ctx context.Context, a *models.Agent) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO agents (user_id, name, per_tx_limit, daily_limit, monthly_limit)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, a.UserID, a.Name, a.PerTxLimit, a.DailyLimit, a.MonthlyLimit).Scan(&a.ID, &a.CreatedAt)
}

func (r *AgentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	var a models.Agent
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, name, per_tx_limit, daily_limit, monthly_limit, last_used_at, created_at
		FROM agents WHERE id = $1
	`, id).Scan(&a.ID, &a.UserID, &a.Name, &a.PerTxLimit, &a.DailyLimit, &a.MonthlyLimit, &a.LastUsedAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AgentRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Agent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, name, per_tx_limit, daily_limit, monthly_limit, last_used_at, created_at
		FROM agents WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.PerTxLimit, &a.DailyLimit, &a.MonthlyLimit, &a.LastUsedAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}
