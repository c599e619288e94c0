package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jordancrombie/wsim-sub002/internal/models"
)

type DeviceRepo struct {
	pool *pgxpool.Pool
}

func NewDeviceRepo(pool *pgxpool.Pool) *DeviceRepo {
	return &DeviceRepo{pool: pool}
}

func (r *DeviceRepo) GetByDeviceID(ctx context.Context, deviceID string) (*models.Device, error) {
	var d models.Device
	err := r.pool.QueryRow(ctx, `
		SELECT id, device_id, user_id, platform, name, credential_enc, credential_expires_at,
		       push_token, push_token_type, push_active, biometric_enabled, last_used_at, created_at
		FROM devices WHERE device_id = $1
	`, deviceID).Scan(&d.ID, &d.DeviceID, &d.UserID, &d.Platform, &d.Name, &d.CredentialEnc, &d.CredentialExpiresAt,
		&d.PushToken, &d.PushTokenType, &d.PushActive, &d.BiometricEnabled, &d.LastUsedAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpsertAnonymous pre-registers a device before any user is bound. A later
// anonymous upsert never unbinds an existing user.
func (r *DeviceRepo) UpsertAnonymous(ctx context.Context, d *models.Device) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO devices (device_id, platform, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id) DO UPDATE SET
			platform = EXCLUDED.platform,
			name = COALESCE(EXCLUDED.name, devices.name),
			last_used_at = now()
		RETURNING id, user_id, push_active, biometric_enabled, last_used_at, created_at
	`, d.DeviceID, d.Platform, d.Name,
	).Scan(&d.ID, &d.UserID, &d.PushActive, &d.BiometricEnabled, &d.LastUsedAt, &d.CreatedAt)
}

// BindToUser re-binds the device to a (possibly different) user at login.
func (r *DeviceRepo) BindToUser(ctx context.Context, d *models.Device) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO devices (device_id, user_id, platform, name, credential_enc, credential_expires_at,
		                     push_token, push_token_type, push_active, biometric_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (device_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			platform = EXCLUDED.platform,
			name = COALESCE(EXCLUDED.name, devices.name),
			credential_enc = COALESCE(EXCLUDED.credential_enc, devices.credential_enc),
			credential_expires_at = COALESCE(EXCLUDED.credential_expires_at, devices.credential_expires_at),
			push_token = COALESCE(EXCLUDED.push_token, devices.push_token),
			push_token_type = COALESCE(EXCLUDED.push_token_type, devices.push_token_type),
			push_active = EXCLUDED.push_active,
			biometric_enabled = EXCLUDED.biometric_enabled,
			last_used_at = now()
		RETURNING id, last_used_at, created_at
	`, d.DeviceID, d.UserID, d.Platform, d.Name, d.CredentialEnc, d.CredentialExpiresAt,
		d.PushToken, d.PushTokenType, d.PushActive, d.BiometricEnabled,
	).Scan(&d.ID, &d.LastUsedAt, &d.CreatedAt)
}

// RegisterUserAndDevice creates the user and binds the device in one
// transaction; a failure mid-sequence leaves no partial record.
func (r *DeviceRepo) RegisterUserAndDevice(ctx context.Context, u *models.User, d *models.Device) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, first_name, last_name, wallet_id, verification_level)
		VALUES (lower($1), $2, $3, $4, $5, $6)
		RETURNING id, email, created_at, updated_at
	`, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.WalletID, u.VerificationLevel,
	).Scan(&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return err
	}

	d.UserID = &u.ID
	err = tx.QueryRow(ctx, `
		INSERT INTO devices (device_id, user_id, platform, name, credential_enc, credential_expires_at,
		                     push_token, push_token_type, push_active, biometric_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (device_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			platform = EXCLUDED.platform,
			name = COALESCE(EXCLUDED.name, devices.name),
			credential_enc = COALESCE(EXCLUDED.credential_enc, devices.credential_enc),
			credential_expires_at = COALESCE(EXCLUDED.credential_expires_at, devices.credential_expires_at),
			push_token = COALESCE(EXCLUDED.push_token, devices.push_token),
			push_token_type = COALESCE(EXCLUDED.push_token_type, devices.push_token_type),
			push_active = EXCLUDED.push_active,
			biometric_enabled = EXCLUDED.biometric_enabled,
			last_used_at = now()
		RETURNING id, last_used_at, created_at
	`, d.DeviceID, d.UserID, d.Platform, d.Name, d.CredentialEnc, d.CredentialExpiresAt,
		d.PushToken, d.PushTokenType, d.PushActive, d.BiometricEnabled,
	).Scan(&d.ID, &d.LastUsedAt, &d.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// DeactivatePush marks the push token inactive; it is never deleted.
func (r *DeviceRepo) DeactivatePush(ctx context.Context, deviceID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE devices SET push_active = false WHERE device_id = $1
	`, deviceID)
	return err
}

func (r *DeviceRepo) TouchLastUsed(ctx context.Context, deviceID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE devices SET last_used_at = now() WHERE device_id = $1`, deviceID)
	return err
}

// ListActivePushByUser returns devices with an active push token for
// notification fan-out.
func (r *DeviceRepo) ListActivePushByUser(ctx context.Context, userID uuid.UUID) ([]models.Device, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, device_id, user_id, platform, name, credential_enc, credential_expires_at,
		       push_token, push_token_type, push_active, biometric_enabled, last_used_at, created_at
		FROM devices
		WHERE user_id = $1 AND push_active = true AND push_token IS NOT NULL
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var d models.Device
		if err := rows.Scan(&d.ID, &d.DeviceID, &d.UserID, &d.Platform, &d.Name, &d.CredentialEnc, &d.CredentialExpiresAt,
			&d.PushToken, &d.PushTokenType, &d.PushActive, &d.BiometricEnabled, &d.LastUsedAt, &d.CreatedAt); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}
