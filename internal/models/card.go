package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Card struct {
	ID             uuid.UUID `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	EnrollmentID   uuid.UUID `json:"enrollment_id"`
	Network        string    `json:"network"`
	CardType       string    `json:"card_type"`
	LastFour       string    `json:"last_four"`
	CardholderName *string   `json:"cardholder_name,omitempty"`
	ExpiryMonth    int       `json:"expiry_month"`
	ExpiryYear     int       `json:"expiry_year"`
	BankCardRef    string    `json:"bank_card_ref"`
	WalletToken    string    `json:"wallet_token"`
	IsDefault      bool      `json:"is_default"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

const walletTokenPrefix = "wsim"

// GenerateWalletCardToken mints a routable card token of the form
// wsim_{bsimId}_{32 hex chars}.
func GenerateWalletCardToken(bsimID string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s_%s", walletTokenPrefix, bsimID, hex.EncodeToString(buf)), nil
}

// ParseWalletCardToken recovers the bsim id from a wallet card token.
func ParseWalletCardToken(token string) (string, error) {
	parts := strings.Split(token, "_")
	if len(parts) != 3 || parts[0] != walletTokenPrefix || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("invalid wallet card token")
	}
	return parts[1], nil
}
