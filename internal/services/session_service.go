package services

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jordancrombie/wsim-sub002/internal/auth"
	"github.com/jordancrombie/wsim-sub002/internal/config"
	"github.com/jordancrombie/wsim-sub002/internal/crypto"
	"github.com/jordancrombie/wsim-sub002/internal/models"
	"github.com/jordancrombie/wsim-sub002/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const loginChallengeKeyPrefix = "login:"

// loginChallenge is the single-use email-code record between StartLogin and
// VerifyLogin.
type loginChallenge struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// SessionService owns mobile registration, email-code login, refresh-token
// rotation with reuse detection, and logout.
type SessionService struct {
	users      UserStore
	devices    DeviceStore
	refreshers RefreshTokenStore
	issuer     *auth.TokenIssuer
	vault      *crypto.Vault
	challenges store.CorrelationStore
	mailer     Mailer
	cfg        *config.Config
	log        *zap.Logger
	now        Clock
}

func NewSessionService(
	users UserStore,
	devices DeviceStore,
	refreshers RefreshTokenStore,
	issuer *auth.TokenIssuer,
	vault *crypto.Vault,
	challenges store.CorrelationStore,
	mailer Mailer,
	cfg *config.Config,
	log *zap.Logger,
) *SessionService {
	return &SessionService{
		users:      users,
		devices:    devices,
		refreshers: refreshers,
		issuer:     issuer,
		vault:      vault,
		challenges: challenges,
		mailer:     mailer,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

// TokenPair is what the mobile client stores after any successful auth step.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type DeviceParams struct {
	DeviceID      string
	Platform      string
	Name          *string
	PushToken     *string
	PushTokenType *string
}

func (p DeviceParams) validate() error {
	if p.DeviceID == "" {
		return fmt.Errorf("%w: deviceId is required", ErrInvalidRequest)
	}
	if p.Platform == "" {
		return fmt.Errorf("%w: platform is required", ErrInvalidRequest)
	}
	return nil
}

func (p DeviceParams) model() *models.Device {
	return &models.Device{
		DeviceID:      p.DeviceID,
		Platform:      p.Platform,
		Name:          p.Name,
		PushToken:     p.PushToken,
		PushTokenType: p.PushTokenType,
		PushActive:    p.PushToken != nil,
	}
}

type RegisterParams struct {
	Email     string
	Password  string
	FirstName *string
	LastName  *string
	Device    DeviceParams
}

// Register creates a wallet account bound to the device, or attaches the
// device to an existing account when the password matches. An existing account
// without a password cannot be claimed this way; it must go through email
// login.
func (s *SessionService) Register(ctx context.Context, params RegisterParams) (*models.User, *TokenPair, error) {
	email := normalizeEmail(params.Email)
	if email == "" {
		return nil, nil, fmt.Errorf("%w: email is required", ErrInvalidRequest)
	}
	if len(params.Password) < 8 {
		return nil, nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidRequest)
	}
	if err := params.Device.validate(); err != nil {
		return nil, nil, err
	}

	device := params.Device.model()

	existing, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		if existing.PasswordHash == nil {
			return nil, nil, fmt.Errorf("%w: account exists, sign in with email code", ErrUnauthorized)
		}
		if bcrypt.CompareHashAndPassword([]byte(*existing.PasswordHash), []byte(params.Password)) != nil {
			return nil, nil, ErrUnauthorized
		}
		device.UserID = &existing.ID
		if err := s.issueDeviceCredential(device); err != nil {
			return nil, nil, err
		}
		if err := s.devices.BindToUser(ctx, device); err != nil {
			return nil, nil, err
		}
		pair, err := s.issueTokens(ctx, existing.ID, device.DeviceID)
		if err != nil {
			return nil, nil, err
		}
		return existing, pair, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, err
	}
	hashStr := string(hash)
	user := &models.User{
		Email:             email,
		PasswordHash:      &hashStr,
		FirstName:         params.FirstName,
		LastName:          params.LastName,
		WalletID:          "wlt_" + uuid.New().String(),
		VerificationLevel: "standard",
	}
	if err := s.issueDeviceCredential(device); err != nil {
		return nil, nil, err
	}
	if err := s.devices.RegisterUserAndDevice(ctx, user, device); err != nil {
		return nil, nil, err
	}

	pair, err := s.issueTokens(ctx, user.ID, device.DeviceID)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// PreRegister records an anonymous device ahead of any account, so push and
// enrollment can reference it.
func (s *SessionService) PreRegister(ctx context.Context, params DeviceParams) (*models.Device, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	device := params.model()
	if err := s.devices.UpsertAnonymous(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// StartLogin issues a short-lived six-digit code to the email. The challenge
// id comes back regardless of whether the account exists, so the endpoint does
// not disclose registration status.
func (s *SessionService) StartLogin(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidRequest)
	}

	code, err := randomDigits(6)
	if err != nil {
		return "", err
	}
	challengeID := uuid.New().String()

	data, err := json.Marshal(loginChallenge{Email: email, Code: code})
	if err != nil {
		return "", err
	}
	if err := s.challenges.Put(ctx, loginChallengeKeyPrefix+challengeID, data, s.cfg.LoginChallengeTTL); err != nil {
		return "", err
	}

	if err := s.mailer.SendLoginCode(ctx, email, code); err != nil {
		s.log.Warn("sending login code failed", zap.Error(err))
	}
	return challengeID, nil
}

type VerifyLoginParams struct {
	ChallengeID string
	Code        string
	Device      DeviceParams
}

// VerifyLogin redeems a login challenge. The challenge is consumed on first
// use whether or not the code matches, so each id allows exactly one attempt.
func (s *SessionService) VerifyLogin(ctx context.Context, params VerifyLoginParams) (*models.User, *TokenPair, error) {
	if params.ChallengeID == "" || params.Code == "" {
		return nil, nil, fmt.Errorf("%w: challengeId and code are required", ErrInvalidRequest)
	}
	if err := params.Device.validate(); err != nil {
		return nil, nil, err
	}

	data, ok, err := s.challenges.TakeOnce(ctx, loginChallengeKeyPrefix+params.ChallengeID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrUnauthorized
	}
	var challenge loginChallenge
	if err := json.Unmarshal(data, &challenge); err != nil {
		return nil, nil, ErrUnauthorized
	}
	if challenge.Code != params.Code {
		return nil, nil, ErrUnauthorized
	}

	user, err := s.users.GetByEmail(ctx, challenge.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrUnauthorized
	}
	if err != nil {
		return nil, nil, err
	}

	device := params.Device.model()
	device.UserID = &user.ID
	if err := s.issueDeviceCredential(device); err != nil {
		return nil, nil, err
	}
	if err := s.devices.BindToUser(ctx, device); err != nil {
		return nil, nil, err
	}

	pair, err := s.issueTokens(ctx, user.ID, device.DeviceID)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Refresh rotates a refresh token. Presenting a token whose record is missing,
// revoked or expired is treated as reuse: the whole device family is revoked
// and the client must authenticate again.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.issuer.Parse(refreshToken, auth.TokenTypeRefresh)
	if err != nil {
		return nil, ErrUnauthorized
	}

	record, err := s.refreshers.Get(ctx, claims.ID, claims.UserID, claims.DeviceID)
	if errors.Is(err, pgx.ErrNoRows) {
		s.revokeFamily(ctx, claims.UserID, claims.DeviceID, "unknown token id")
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !record.Redeemable(s.now()) {
		s.revokeFamily(ctx, claims.UserID, claims.DeviceID, "revoked or expired token presented")
		return nil, ErrUnauthorized
	}

	accessToken, err := s.issuer.IssueAccess(claims.UserID, claims.DeviceID)
	if err != nil {
		return nil, err
	}
	signed, tokenID, expiresAt, err := s.issuer.IssueRefresh(claims.UserID, claims.DeviceID)
	if err != nil {
		return nil, err
	}

	next := &models.RefreshToken{
		TokenID:   tokenID,
		UserID:    claims.UserID,
		DeviceID:  claims.DeviceID,
		ExpiresAt: expiresAt,
	}
	if err := s.refreshers.Rotate(ctx, claims.ID, next); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent redemption of the same token. Same theft response.
			s.revokeFamily(ctx, claims.UserID, claims.DeviceID, "concurrent rotation")
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	if err := s.devices.TouchLastUsed(ctx, claims.DeviceID); err != nil {
		s.log.Warn("touching device failed", zap.String("device_id", claims.DeviceID), zap.Error(err))
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: signed,
		ExpiresAt:    s.now().Add(s.issuer.AccessTTL()),
	}, nil
}

// Logout revokes the device's refresh family and stops push to it. With
// allDevices set, every session of the user goes.
func (s *SessionService) Logout(ctx context.Context, userID uuid.UUID, deviceID string, allDevices bool) error {
	if allDevices {
		if err := s.refreshers.RevokeAllForUser(ctx, userID); err != nil {
			return err
		}
	} else {
		if err := s.refreshers.RevokeAllForDevice(ctx, userID, deviceID); err != nil {
			return err
		}
	}
	if err := s.devices.DeactivatePush(ctx, deviceID); err != nil {
		s.log.Warn("deactivating push failed", zap.String("device_id", deviceID), zap.Error(err))
	}
	return nil
}

// Me returns the user's profile.
func (s *SessionService) Me(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return user, err
}

// issueDeviceCredential mints a fresh opaque device credential, stored only in
// encrypted form. Each successful registration or login replaces it.
func (s *SessionService) issueDeviceCredential(device *models.Device) error {
	credential, err := randomHex(32)
	if err != nil {
		return err
	}
	enc, err := s.vault.Encrypt(credential)
	if err != nil {
		return fmt.Errorf("encrypting device credential: %w", err)
	}
	expiresAt := s.now().Add(s.cfg.RefreshTokenTTL)
	device.CredentialEnc = enc
	device.CredentialExpiresAt = &expiresAt
	return nil
}

func (s *SessionService) issueTokens(ctx context.Context, userID uuid.UUID, deviceID string) (*TokenPair, error) {
	accessToken, err := s.issuer.IssueAccess(userID, deviceID)
	if err != nil {
		return nil, err
	}
	signed, tokenID, expiresAt, err := s.issuer.IssueRefresh(userID, deviceID)
	if err != nil {
		return nil, err
	}
	record := &models.RefreshToken{
		TokenID:   tokenID,
		UserID:    userID,
		DeviceID:  deviceID,
		ExpiresAt: expiresAt,
	}
	if err := s.refreshers.Create(ctx, record); err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: signed,
		ExpiresAt:    s.now().Add(s.issuer.AccessTTL()),
	}, nil
}

func (s *SessionService) revokeFamily(ctx context.Context, userID uuid.UUID, deviceID, cause string) {
	s.log.Warn("refresh token reuse detected, revoking device sessions",
		zap.String("user_id", userID.String()),
		zap.String("device_id", deviceID),
		zap.String("cause", cause),
	)
	if err := s.refreshers.RevokeAllForDevice(ctx, userID, deviceID); err != nil {
		s.log.Error("revoking device sessions failed", zap.String("device_id", deviceID), zap.Error(err))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomDigits(n int) (string, error) {
	var b strings.Builder
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}
