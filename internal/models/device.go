package models

import (
	"time"

	"github.com/google/uuid"
)

// Device is a mobile device keyed by its client-generated device id. UserID is
// nil while the device is pre-registered anonymously.
type Device struct {
	ID                  uuid.UUID  `json:"id"`
	DeviceID            string     `json:"device_id"`
	UserID              *uuid.UUID `json:"user_id,omitempty"`
	Platform            string     `json:"platform"`
	Name                *string    `json:"name,omitempty"`
	CredentialEnc       []byte     `json:"-"`
	CredentialExpiresAt *time.Time `json:"credential_expires_at,omitempty"`
	PushToken           *string    `json:"-"`
	PushTokenType       *string    `json:"push_token_type,omitempty"`
	PushActive          bool       `json:"push_active"`
	BiometricEnabled    bool       `json:"biometric_enabled"`
	LastUsedAt          time.Time  `json:"last_used_at"`
	CreatedAt           time.Time  `json:"created_at"`
}
