package services

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jordancrombie/wsim-sub002/internal/auth"
	"github.com/jordancrombie/wsim-sub002/internal/config"
	"github.com/jordancrombie/wsim-sub002/internal/crypto"
	"github.com/jordancrombie/wsim-sub002/internal/models"
	"github.com/jordancrombie/wsim-sub002/internal/store"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type sessionFixture struct {
	svc        *SessionService
	users      *mockUserStore
	devices    *mockDeviceStore
	refreshers *mockRefreshTokenStore
	issuer     *auth.TokenIssuer
	vault      *crypto.Vault
	challenges *store.MemoryStore
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	vault, err := crypto.NewVault(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	challenges := store.NewMemoryStore(0)
	t.Cleanup(challenges.Close)

	f := &sessionFixture{
		users:      &mockUserStore{},
		devices:    &mockDeviceStore{},
		refreshers: &mockRefreshTokenStore{},
		issuer:     auth.NewTokenIssuer("test-secret", "wsim", "wsim-mobile", 15*time.Minute, 24*time.Hour),
		vault:      vault,
		challenges: challenges,
	}
	f.svc = &SessionService{
		users:      f.users,
		devices:    f.devices,
		refreshers: f.refreshers,
		issuer:     f.issuer,
		vault:      vault,
		challenges: challenges,
		mailer:     noopMailer{},
		cfg: &config.Config{
			LoginChallengeTTL: 5 * time.Minute,
			RefreshTokenTTL:   30 * 24 * time.Hour,
		},
		log: zap.NewNop(),
		now: time.Now,
	}
	return f
}

func testDevice() DeviceParams {
	return DeviceParams{DeviceID: "device-1", Platform: "ios"}
}

func TestRegisterNewUser(t *testing.T) {
	f := newSessionFixture(t)

	f.users.On("GetByEmail", mock.Anything, "new@example.com").
		Return(nil, pgx.ErrNoRows).Once()
	f.devices.On("RegisterUserAndDevice", mock.Anything,
		mock.MatchedBy(func(u *models.User) bool {
			if u.Email != "new@example.com" || u.PasswordHash == nil {
				return false
			}
			return bcrypt.CompareHashAndPassword([]byte(*u.PasswordHash), []byte("hunter22pass")) == nil
		}),
		mock.MatchedBy(func(d *models.Device) bool {
			return d.DeviceID == "device-1" && d.Platform == "ios"
		})).Return(nil).Once()
	f.refreshers.On("Create", mock.Anything, mock.Anything).Return(nil).Once()

	user, pair, err := f.svc.Register(context.Background(), RegisterParams{
		Email:    "  New@Example.COM ",
		Password: "hunter22pass",
		Device:   testDevice(),
	})
	require.NoError(t, err)
	require.Equal(t, "new@example.com", user.Email)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	f.devices.AssertExpectations(t)
}

func TestRegisterExistingUserWithPassword(t *testing.T) {
	f := newSessionFixture(t)
	userID := uuid.New()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22pass"), bcrypt.MinCost)
	require.NoError(t, err)
	hashStr := string(hash)

	f.users.On("GetByEmail", mock.Anything, "a@example.com").
		Return(&models.User{ID: userID, Email: "a@example.com", PasswordHash: &hashStr}, nil).Twice()

	t.Run("matching password binds the device", func(t *testing.T) {
		f.devices.On("BindToUser", mock.Anything, mock.MatchedBy(func(d *models.Device) bool {
			return d.UserID != nil && *d.UserID == userID
		})).Return(nil).Once()
		f.refreshers.On("Create", mock.Anything, mock.Anything).Return(nil).Once()

		user, pair, err := f.svc.Register(context.Background(), RegisterParams{
			Email: "a@example.com", Password: "hunter22pass", Device: testDevice(),
		})
		require.NoError(t, err)
		require.Equal(t, userID, user.ID)
		require.NotEmpty(t, pair.RefreshToken)
	})

	t.Run("wrong password is rejected", func(t *testing.T) {
		_, _, err := f.svc.Register(context.Background(), RegisterParams{
			Email: "a@example.com", Password: "wrongpassword", Device: testDevice(),
		})
		require.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestRegisterPasswordlessAccountNotClaimable(t *testing.T) {
	f := newSessionFixture(t)

	f.users.On("GetByEmail", mock.Anything, "a@example.com").
		Return(&models.User{ID: uuid.New(), Email: "a@example.com"}, nil).Once()

	_, _, err := f.svc.Register(context.Background(), RegisterParams{
		Email: "a@example.com", Password: "hunter22pass", Device: testDevice(),
	})
	require.ErrorIs(t, err, ErrUnauthorized)
	f.devices.AssertNotCalled(t, "BindToUser", mock.Anything, mock.Anything)
}

func TestRegisterValidation(t *testing.T) {
	f := newSessionFixture(t)

	_, _, err := f.svc.Register(context.Background(), RegisterParams{
		Email: "", Password: "hunter22pass", Device: testDevice(),
	})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, _, err = f.svc.Register(context.Background(), RegisterParams{
		Email: "a@example.com", Password: "short", Device: testDevice(),
	})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, _, err = f.svc.Register(context.Background(), RegisterParams{
		Email: "a@example.com", Password: "hunter22pass",
		Device: DeviceParams{Platform: "ios"},
	})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAuthIssuesDeviceCredential(t *testing.T) {
	hasFreshCredential := func(f *sessionFixture) func(d *models.Device) bool {
		return func(d *models.Device) bool {
			if d.CredentialExpiresAt == nil || !d.CredentialExpiresAt.After(time.Now()) {
				return false
			}
			credential, err := f.vault.Decrypt(d.CredentialEnc)
			return err == nil && len(credential) == 64
		}
	}

	t.Run("registration", func(t *testing.T) {
		f := newSessionFixture(t)

		f.users.On("GetByEmail", mock.Anything, "new@example.com").
			Return(nil, pgx.ErrNoRows).Once()
		f.devices.On("RegisterUserAndDevice", mock.Anything, mock.Anything,
			mock.MatchedBy(hasFreshCredential(f))).Return(nil).Once()
		f.refreshers.On("Create", mock.Anything, mock.Anything).Return(nil).Once()

		_, _, err := f.svc.Register(context.Background(), RegisterParams{
			Email: "new@example.com", Password: "hunter22pass", Device: testDevice(),
		})
		require.NoError(t, err)
		f.devices.AssertExpectations(t)
	})

	t.Run("email-code login", func(t *testing.T) {
		f := newSessionFixture(t)

		challengeID, err := f.svc.StartLogin(context.Background(), "a@example.com")
		require.NoError(t, err)
		code := storedChallengeCode(t, f.challenges, challengeID)

		f.users.On("GetByEmail", mock.Anything, "a@example.com").
			Return(&models.User{ID: uuid.New(), Email: "a@example.com"}, nil).Once()
		f.devices.On("BindToUser", mock.Anything, mock.MatchedBy(hasFreshCredential(f))).
			Return(nil).Once()
		f.refreshers.On("Create", mock.Anything, mock.Anything).Return(nil).Once()

		_, _, err = f.svc.VerifyLogin(context.Background(), VerifyLoginParams{
			ChallengeID: challengeID, Code: code, Device: testDevice(),
		})
		require.NoError(t, err)
		f.devices.AssertExpectations(t)
	})
}

func TestStartLoginDoesNotDiscloseAccounts(t *testing.T) {
	f := newSessionFixture(t)

	// No user lookup happens at all; the challenge id comes back either way.
	challengeID, err := f.svc.StartLogin(context.Background(), "ghost@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, challengeID)
	f.users.AssertNotCalled(t, "GetByEmail", mock.Anything, mock.Anything)
}

func TestVerifyLogin(t *testing.T) {
	f := newSessionFixture(t)
	userID := uuid.New()

	challengeID, err := f.svc.StartLogin(context.Background(), "a@example.com")
	require.NoError(t, err)
	code := storedChallengeCode(t, f.challenges, challengeID)

	f.users.On("GetByEmail", mock.Anything, "a@example.com").
		Return(&models.User{ID: userID, Email: "a@example.com"}, nil).Once()
	f.devices.On("BindToUser", mock.Anything, mock.Anything).Return(nil).Once()
	f.refreshers.On("Create", mock.Anything, mock.Anything).Return(nil).Once()

	user, pair, err := f.svc.VerifyLogin(context.Background(), VerifyLoginParams{
		ChallengeID: challengeID, Code: code, Device: testDevice(),
	})
	require.NoError(t, err)
	require.Equal(t, userID, user.ID)
	require.NotEmpty(t, pair.AccessToken)
}

func TestVerifyLoginWrongCodeConsumesChallenge(t *testing.T) {
	f := newSessionFixture(t)

	challengeID, err := f.svc.StartLogin(context.Background(), "a@example.com")
	require.NoError(t, err)
	code := storedChallengeCode(t, f.challenges, challengeID)

	_, _, err = f.svc.VerifyLogin(context.Background(), VerifyLoginParams{
		ChallengeID: challengeID, Code: "000000", Device: testDevice(),
	})
	require.ErrorIs(t, err, ErrUnauthorized)

	// One attempt per challenge: the right code no longer works.
	_, _, err = f.svc.VerifyLogin(context.Background(), VerifyLoginParams{
		ChallengeID: challengeID, Code: code, Device: testDevice(),
	})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestRefreshRotation(t *testing.T) {
	f := newSessionFixture(t)
	userID := uuid.New()

	signed, tokenID, expiresAt, err := f.issuer.IssueRefresh(userID, "device-1")
	require.NoError(t, err)

	f.refreshers.On("Get", mock.Anything, tokenID, userID, "device-1").
		Return(&models.RefreshToken{
			TokenID: tokenID, UserID: userID, DeviceID: "device-1", ExpiresAt: expiresAt,
		}, nil).Once()
	f.refreshers.On("Rotate", mock.Anything, tokenID,
		mock.MatchedBy(func(next *models.RefreshToken) bool {
			return next.TokenID != tokenID && next.UserID == userID && next.DeviceID == "device-1"
		})).Return(nil).Once()
	f.devices.On("TouchLastUsed", mock.Anything, "device-1").Return(nil).Once()

	pair, err := f.svc.Refresh(context.Background(), signed)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)

	claims, err := f.issuer.Parse(pair.RefreshToken, auth.TokenTypeRefresh)
	require.NoError(t, err)
	require.NotEqual(t, tokenID, claims.ID)
	f.refreshers.AssertExpectations(t)
}

func TestRefreshUnknownTokenRevokesFamily(t *testing.T) {
	f := newSessionFixture(t)
	userID := uuid.New()

	signed, tokenID, _, err := f.issuer.IssueRefresh(userID, "device-1")
	require.NoError(t, err)

	f.refreshers.On("Get", mock.Anything, tokenID, userID, "device-1").
		Return(nil, pgx.ErrNoRows).Once()
	f.refreshers.On("RevokeAllForDevice", mock.Anything, userID, "device-1").
		Return(nil).Once()

	_, err = f.svc.Refresh(context.Background(), signed)
	require.ErrorIs(t, err, ErrUnauthorized)
	f.refreshers.AssertExpectations(t)
}

func TestRefreshRevokedTokenRevokesFamily(t *testing.T) {
	f := newSessionFixture(t)
	userID := uuid.New()

	signed, tokenID, expiresAt, err := f.issuer.IssueRefresh(userID, "device-1")
	require.NoError(t, err)

	revokedAt := time.Now().Add(-time.Hour)
	f.refreshers.On("Get", mock.Anything, tokenID, userID, "device-1").
		Return(&models.RefreshToken{
			TokenID: tokenID, UserID: userID, DeviceID: "device-1",
			ExpiresAt: expiresAt, RevokedAt: &revokedAt,
		}, nil).Once()
	f.refreshers.On("RevokeAllForDevice", mock.Anything, userID, "device-1").
		Return(nil).Once()

	_, err = f.svc.Refresh(context.Background(), signed)
	require.ErrorIs(t, err, ErrUnauthorized)
	f.refreshers.AssertExpectations(t)
}

func TestRefreshConcurrentRotation(t *testing.T) {
	f := newSessionFixture(t)
	userID := uuid.New()

	signed, tokenID, expiresAt, err := f.issuer.IssueRefresh(userID, "device-1")
	require.NoError(t, err)

	f.refreshers.On("Get", mock.Anything, tokenID, userID, "device-1").
		Return(&models.RefreshToken{
			TokenID: tokenID, UserID: userID, DeviceID: "device-1", ExpiresAt: expiresAt,
		}, nil).Once()
	f.refreshers.On("Rotate", mock.Anything, tokenID, mock.Anything).
		Return(pgx.ErrNoRows).Once()
	f.refreshers.On("RevokeAllForDevice", mock.Anything, userID, "device-1").
		Return(nil).Once()

	_, err = f.svc.Refresh(context.Background(), signed)
	require.ErrorIs(t, err, ErrUnauthorized)
	f.refreshers.AssertExpectations(t)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newSessionFixture(t)

	access, err := f.issuer.IssueAccess(uuid.New(), "device-1")
	require.NoError(t, err)

	_, err = f.svc.Refresh(context.Background(), access)
	require.ErrorIs(t, err, ErrUnauthorized)
	f.refreshers.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLogout(t *testing.T) {
	f := newSessionFixture(t)
	userID := uuid.New()

	t.Run("single device", func(t *testing.T) {
		f.refreshers.On("RevokeAllForDevice", mock.Anything, userID, "device-1").
			Return(nil).Once()
		f.devices.On("DeactivatePush", mock.Anything, "device-1").Return(nil).Once()

		require.NoError(t, f.svc.Logout(context.Background(), userID, "device-1", false))
	})

	t.Run("all devices", func(t *testing.T) {
		f.refreshers.On("RevokeAllForUser", mock.Anything, userID).Return(nil).Once()
		f.devices.On("DeactivatePush", mock.Anything, "device-1").Return(nil).Once()

		require.NoError(t, f.svc.Logout(context.Background(), userID, "device-1", true))
	})
}

// storedChallengeCode peeks at the challenge record and puts it back, since
// TakeOnce consumes.
func storedChallengeCode(t *testing.T, s *store.MemoryStore, challengeID string) string {
	t.Helper()
	data, ok, err := s.TakeOnce(context.Background(), loginChallengeKeyPrefix+challengeID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Put(context.Background(), loginChallengeKeyPrefix+challengeID, data, time.Minute))

	var challenge loginChallenge
	require.NoError(t, json.Unmarshal(data, &challenge))
	require.Len(t, challenge.Code, 6)
	return challenge.Code
}
