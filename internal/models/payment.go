package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment request statuses
const (
	PaymentStatusPending   = "pending"
	PaymentStatusApproved  = "approved"
	PaymentStatusCompleted = "completed"
	PaymentStatusCancelled = "cancelled"
	PaymentStatusExpired   = "expired"
)

// Valid state transitions: from -> []to
var ValidPaymentTransitions = map[string][]string{
	PaymentStatusPending:   {PaymentStatusApproved, PaymentStatusCancelled, PaymentStatusExpired},
	PaymentStatusApproved:  {PaymentStatusCompleted, PaymentStatusExpired},
	PaymentStatusCompleted: {},
	PaymentStatusCancelled: {},
	PaymentStatusExpired:   {},
}

func IsValidPaymentTransition(from, to string) bool {
	allowed, ok := ValidPaymentTransitions[from]
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

// PaymentRequest is a merchant-initiated payment authorization. UserID is bound
// lazily on first mobile view; at most one pending request exists per
// (merchant_id, order_id).
type PaymentRequest struct {
	ID               uuid.UUID       `json:"id"`
	MerchantID       string          `json:"merchant_id"`
	OrderID          string          `json:"order_id"`
	Description      *string         `json:"description,omitempty"`
	OrderDetails     *OrderDetails   `json:"order_details,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	ReturnURL        string          `json:"return_url"`
	Status           string          `json:"status"`
	UserID           *uuid.UUID      `json:"user_id,omitempty"`
	CardID           *uuid.UUID      `json:"card_id,omitempty"`
	BankCardTokenEnc []byte          `json:"-"`
	WalletCardToken  *string         `json:"-"`
	RedemptionToken  *string         `json:"-"`
	ExpiresAt        time.Time       `json:"expires_at"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (p *PaymentRequest) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

type OrderDetails struct {
	Items []OrderItem `json:"items"`
}

type OrderItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Structured order breakdown limits.
const (
	MaxOrderItems    = 50
	MaxItemNameLen   = 200
	MaxOrderFieldLen = 500
)

// Validate checks field and array-size limits. It does not compare the
// breakdown total against the authoritative amount; that mismatch is logged by
// the caller, never rejected.
func (d *OrderDetails) Validate() error {
	if len(d.Items) == 0 {
		return fmt.Errorf("order details must contain at least one item")
	}
	if len(d.Items) > MaxOrderItems {
		return fmt.Errorf("order details exceed %d items", MaxOrderItems)
	}
	for i, item := range d.Items {
		if item.Name == "" {
			return fmt.Errorf("item %d: name is required", i)
		}
		if len(item.Name) > MaxItemNameLen {
			return fmt.Errorf("item %d: name exceeds %d chars", i, MaxItemNameLen)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("item %d: quantity must be at least 1", i)
		}
		if item.UnitPrice.IsNegative() {
			return fmt.Errorf("item %d: unit price must not be negative", i)
		}
	}
	return nil
}

// Total computes the breakdown total for the observability-only mismatch check.
func (d *OrderDetails) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range d.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}
