package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is the server-side record of one refresh-token family member.
// TokenID is the jti of the signed token, not the token itself.
type RefreshToken struct {
	TokenID   string     `json:"token_id"`
	UserID    uuid.UUID  `json:"user_id"`
	DeviceID  string     `json:"device_id"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Redeemable reports whether the record is still valid for rotation.
func (t *RefreshToken) Redeemable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
