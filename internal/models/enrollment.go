package models

import (
	"time"

	"github.com/google/uuid"
)

// Enrollment links a wallet user to one BSIM bank. At most one row exists per
// (user_id, bsim_id) pair, maintained by upsert-on-conflict.
type Enrollment struct {
	ID                  uuid.UUID  `json:"id"`
	UserID              uuid.UUID  `json:"user_id"`
	BsimID              string     `json:"bsim_id"`
	Issuer              string     `json:"issuer"`
	BankUserRef         *string    `json:"bank_user_ref,omitempty"`
	WalletCredentialEnc []byte     `json:"-"`
	RefreshTokenEnc     []byte     `json:"-"`
	CredentialExpiresAt *time.Time `json:"credential_expires_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// EnrollmentWithCardCount adds the active card count for list projections.
type EnrollmentWithCardCount struct {
	Enrollment
	CardCount int `json:"card_count"`
}
