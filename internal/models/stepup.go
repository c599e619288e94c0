package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Step-up request statuses
const (
	StepUpStatusPending  = "pending"
	StepUpStatusApproved = "approved"
	StepUpStatusRejected = "rejected"
	StepUpStatusExpired  = "expired"
)

var ValidStepUpTransitions = map[string][]string{
	StepUpStatusPending:  {StepUpStatusApproved, StepUpStatusRejected, StepUpStatusExpired},
	StepUpStatusApproved: {},
	StepUpStatusRejected: {},
	StepUpStatusExpired:  {},
}

func IsValidStepUpTransition(from, to string) bool {
	allowed, ok := ValidStepUpTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Step-up trigger types
const (
	StepUpTriggerPerTransaction = "per_transaction"
	StepUpTriggerDailyLimit     = "daily_limit"
	StepUpTriggerMonthlyLimit   = "monthly_limit"
)

// Agent is an autonomous actor owned by a wallet user, with configured
// spending limits. Transactions over a limit raise a step-up request.
type Agent struct {
	ID           uuid.UUID        `json:"id"`
	UserID       uuid.UUID        `json:"user_id"`
	Name         string           `json:"name"`
	PerTxLimit   *decimal.Decimal `json:"per_tx_limit,omitempty"`
	DailyLimit   *decimal.Decimal `json:"daily_limit,omitempty"`
	MonthlyLimit *decimal.Decimal `json:"monthly_limit,omitempty"`
	LastUsedAt   *time.Time       `json:"last_used_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

type StepUpRequest struct {
	ID              uuid.UUID       `json:"id"`
	AgentID         uuid.UUID       `json:"agent_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	MerchantName    string          `json:"merchant_name"`
	SessionID       *string         `json:"session_id,omitempty"`
	Reason          *string         `json:"reason,omitempty"`
	TriggerType     string          `json:"trigger_type"`
	RequestedCardID *uuid.UUID      `json:"requested_card_id,omitempty"`
	ApprovedCardID  *uuid.UUID      `json:"approved_card_id,omitempty"`
	Status          string          `json:"status"`
	ExpiresAt       time.Time       `json:"expires_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (s *StepUpRequest) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// AgentTransaction is created at step-up approval time, one-to-one with the
// approving request.
type AgentTransaction struct {
	ID           uuid.UUID       `json:"id"`
	AgentID      uuid.UUID       `json:"agent_id"`
	StepUpID     *uuid.UUID      `json:"step_up_id,omitempty"`
	CardID       uuid.UUID       `json:"card_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	MerchantName string          `json:"merchant_name"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}
