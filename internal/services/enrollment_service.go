package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jordancrombie/wsim-sub002/internal/bsim"
	"github.com/jordancrombie/wsim-sub002/internal/config"
	"github.com/jordancrombie/wsim-sub002/internal/crypto"
	"github.com/jordancrombie/wsim-sub002/internal/models"
	"github.com/jordancrombie/wsim-sub002/internal/providers"
	"github.com/jordancrombie/wsim-sub002/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Enrollment channels. The mobile channel redirects to the app's custom
// scheme instead of the web frontend.
const (
	ChannelWeb    = "web"
	ChannelMobile = "mobile"
)

// Stable machine-readable callback error codes. Each validation failure maps
// to its own code; bank-reported errors pass through verbatim.
const (
	ErrCodeMissingCode    = "missing_code"
	ErrCodeInvalidSession = "invalid_session"
	ErrCodeInvalidState   = "invalid_state"
	ErrCodeInvalidBsim    = "invalid_bsim"
	ErrCodeUnknownBsim     = "unknown_bsim"
	ErrCodeAccountMismatch = "account_mismatch"
	ErrCodeCallbackFailed  = "callback_failed"
)

// errAccountMismatch marks a callback whose bank identity cannot be attached
// to the authenticated user who started the enrollment.
var errAccountMismatch = errors.New("bank identity belongs to a different wallet account")

const enrollStateKeyPrefix = "enroll:"

// enrollmentState is the correlation record persisted between Start and
// Callback, keyed by the opaque state value, single-use.
type enrollmentState struct {
	BsimID       string     `json:"bsim_id"`
	State        string     `json:"state"`
	Nonce        string     `json:"nonce"`
	Verifier     string     `json:"verifier"`
	PasswordHash *string    `json:"password_hash,omitempty"`
	Channel      string     `json:"channel"`
	PrincipalID  *uuid.UUID `json:"principal_id,omitempty"`
}

// EnrollmentService drives the OIDC authorization-code + PKCE flow for linking
// a bank and performs the idempotent user/enrollment/card upsert.
type EnrollmentService struct {
	registry    *providers.Registry
	bank        BankGateway
	states      store.CorrelationStore
	vault       *crypto.Vault
	users       UserStore
	enrollments EnrollmentStore
	cards       CardStore
	cfg         *config.Config
	log         *zap.Logger
}

func NewEnrollmentService(
	registry *providers.Registry,
	bank BankGateway,
	states store.CorrelationStore,
	vault *crypto.Vault,
	users UserStore,
	enrollments EnrollmentStore,
	cards CardStore,
	cfg *config.Config,
	log *zap.Logger,
) *EnrollmentService {
	return &EnrollmentService{
		registry:    registry,
		bank:        bank,
		states:      states,
		vault:       vault,
		users:       users,
		enrollments: enrollments,
		cards:       cards,
		cfg:         cfg,
		log:         log,
	}
}

type StartOptions struct {
	// Password, when supplied, is hashed and applied to the user at callback
	// time only if the user does not already have one.
	Password    string
	Channel     string
	PrincipalID *uuid.UUID
}

// Start generates the PKCE pair, state and nonce, persists the correlation
// record with a bounded TTL and returns the bank's authorization URL.
func (s *EnrollmentService) Start(ctx context.Context, bsimID string, opts StartOptions) (string, error) {
	provider, ok := s.registry.Get(bsimID)
	if !ok {
		return "", fmt.Errorf("%w: unknown bsim %q", ErrNotFound, bsimID)
	}

	verifier, err := bsim.GeneratePKCEVerifier()
	if err != nil {
		return "", err
	}
	state, err := bsim.GenerateOpaqueToken()
	if err != nil {
		return "", err
	}
	nonce, err := bsim.GenerateOpaqueToken()
	if err != nil {
		return "", err
	}

	rec := enrollmentState{
		BsimID:      bsimID,
		State:       state,
		Nonce:       nonce,
		Verifier:    verifier,
		Channel:     opts.Channel,
		PrincipalID: opts.PrincipalID,
	}
	if rec.Channel == "" {
		rec.Channel = ChannelWeb
	}
	if opts.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
		if err != nil {
			return "", err
		}
		h := string(hash)
		rec.PasswordHash = &h
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	if err := s.states.Put(ctx, enrollStateKeyPrefix+state, data, s.cfg.EnrollmentStateTTL); err != nil {
		return "", err
	}

	authURL, err := s.bank.BuildAuthorizationURL(ctx, bsim.AuthorizationRequest{
		Provider:      provider,
		RedirectURI:   s.redirectURI(bsimID),
		State:         state,
		Nonce:         nonce,
		CodeChallenge: bsim.PKCEChallenge(verifier),
	})
	if err != nil {
		return "", fmt.Errorf("building authorization url: %w", err)
	}
	return authURL, nil
}

type CallbackParams struct {
	Code             string
	State            string
	ErrorParam       string
	ErrorDescription string
}

// Callback validates the bank redirect and, on success, performs the token
// exchange and the idempotent user/enrollment/card upsert. It always returns
// a redirect URL; validation failures carry their distinct error code, never a
// 500.
func (s *EnrollmentService) Callback(ctx context.Context, bsimID string, params CallbackParams) string {
	// Consume the correlation record up front so it is released on every
	// outcome, success or failure.
	channel := ChannelWeb
	var rec *enrollmentState
	if params.State != "" {
		if data, ok, err := s.states.TakeOnce(ctx, enrollStateKeyPrefix+params.State); err == nil && ok {
			var st enrollmentState
			if json.Unmarshal(data, &st) == nil {
				rec = &st
				channel = st.Channel
			}
		}
	}

	if params.ErrorParam != "" {
		return s.failureRedirect(channel, params.ErrorParam, params.ErrorDescription)
	}
	if params.Code == "" {
		return s.failureRedirect(channel, ErrCodeMissingCode, "authorization code missing from callback")
	}
	if rec == nil {
		return s.failureRedirect(channel, ErrCodeInvalidSession, "no matching enrollment session")
	}
	if rec.State != params.State {
		return s.failureRedirect(channel, ErrCodeInvalidState, "state parameter mismatch")
	}
	if rec.BsimID != bsimID {
		return s.failureRedirect(channel, ErrCodeInvalidBsim, "bank identifier mismatch")
	}

	provider, ok := s.registry.Get(bsimID)
	if !ok {
		return s.failureRedirect(channel, ErrCodeUnknownBsim, "bank is not configured")
	}

	if err := s.finishEnrollment(ctx, provider, rec, params.Code); err != nil {
		s.log.Error("enrollment callback failed",
			zap.String("bsim_id", bsimID),
			zap.Error(err),
		)
		if errors.Is(err, errAccountMismatch) {
			return s.failureRedirect(channel, ErrCodeAccountMismatch, err.Error())
		}
		return s.failureRedirect(channel, ErrCodeCallbackFailed, err.Error())
	}
	return s.successRedirect(channel, bsimID)
}

// finishEnrollment runs token exchange through card sync. A card-sync failure
// is logged and swallowed; the persisted enrollment stands.
func (s *EnrollmentService) finishEnrollment(ctx context.Context, provider providers.Provider, rec *enrollmentState, code string) error {
	tokens, err := s.bank.ExchangeCode(ctx, provider, code, s.redirectURI(provider.ID), rec.Verifier)
	if err != nil {
		return fmt.Errorf("token exchange: %w", err)
	}

	identity := &bsim.IdentityClaims{}
	if tokens.IDToken != "" {
		identity, err = bsim.DecodeIdentityClaims(tokens.IDToken)
		if err != nil {
			return fmt.Errorf("decoding id token: %w", err)
		}
	}
	if identity.Nonce != "" && identity.Nonce != rec.Nonce {
		return fmt.Errorf("nonce mismatch")
	}
	if identity.Email == "" {
		return fmt.Errorf("bank did not supply an email claim")
	}

	// The wallet credential is a bank-specific claim on the access token; a
	// bank that did not grant the enroll scope falls back to the raw access
	// token. Degraded but functional.
	walletCredential := tokens.AccessToken
	if accessClaims, err := bsim.DecodeIdentityClaims(tokens.AccessToken); err == nil && accessClaims.WalletCredential != "" {
		walletCredential = accessClaims.WalletCredential
	}

	user, err := s.upsertUser(ctx, identity, rec)
	if err != nil {
		return err
	}

	enrollment, err := s.upsertEnrollment(ctx, user.ID, provider, identity, tokens, walletCredential)
	if err != nil {
		return err
	}

	if err := s.syncCards(ctx, provider, user.ID, enrollment.ID, walletCredential); err != nil {
		s.log.Warn("card sync failed, keeping enrollment",
			zap.String("bsim_id", provider.ID),
			zap.String("enrollment_id", enrollment.ID.String()),
			zap.Error(err),
		)
	}
	return nil
}

// upsertUser finds or creates the wallet user by case-normalized email. An
// existing user gets name patches and, at most once, a password supplied at
// enrollment start. An existing password is never overwritten. A mobile
// enrollment started by an authenticated user binds to that user instead.
func (s *EnrollmentService) upsertUser(ctx context.Context, identity *bsim.IdentityClaims, rec *enrollmentState) (*models.User, error) {
	var firstName, lastName *string
	if identity.GivenName != "" {
		firstName = &identity.GivenName
	}
	if identity.FamilyName != "" {
		lastName = &identity.FamilyName
	}

	if rec.PrincipalID != nil {
		return s.bindPrincipal(ctx, identity, rec, firstName, lastName)
	}

	user, err := s.users.GetByEmail(ctx, identity.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		user = &models.User{
			Email:             identity.Email,
			PasswordHash:      rec.PasswordHash,
			FirstName:         firstName,
			LastName:          lastName,
			WalletID:          "wlt_" + uuid.New().String(),
			VerificationLevel: "standard",
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("creating user: %w", err)
		}
		return user, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if firstName != nil || lastName != nil {
		if err := s.users.UpdateNames(ctx, user.ID, firstName, lastName); err != nil {
			return nil, fmt.Errorf("updating user names: %w", err)
		}
	}
	if user.PasswordHash == nil && rec.PasswordHash != nil {
		if err := s.users.SetPasswordIfUnset(ctx, user.ID, *rec.PasswordHash); err != nil {
			return nil, fmt.Errorf("setting password: %w", err)
		}
	}
	return user, nil
}

// bindPrincipal attaches the enrollment to the already-authenticated user who
// started it. A bank email that resolves to a different wallet user is
// refused; the enrollment never re-homes silently.
func (s *EnrollmentService) bindPrincipal(ctx context.Context, identity *bsim.IdentityClaims, rec *enrollmentState, firstName, lastName *string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, *rec.PrincipalID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("enrolling user no longer exists: %w", errAccountMismatch)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up enrolling user: %w", err)
	}

	other, err := s.users.GetByEmail(ctx, identity.Email)
	if err == nil && other.ID != user.ID {
		return nil, errAccountMismatch
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if firstName != nil || lastName != nil {
		if err := s.users.UpdateNames(ctx, user.ID, firstName, lastName); err != nil {
			return nil, fmt.Errorf("updating user names: %w", err)
		}
	}
	if user.PasswordHash == nil && rec.PasswordHash != nil {
		if err := s.users.SetPasswordIfUnset(ctx, user.ID, *rec.PasswordHash); err != nil {
			return nil, fmt.Errorf("setting password: %w", err)
		}
	}
	return user, nil
}

func (s *EnrollmentService) upsertEnrollment(ctx context.Context, userID uuid.UUID, provider providers.Provider, identity *bsim.IdentityClaims, tokens *bsim.TokenResponse, walletCredential string) (*models.Enrollment, error) {
	credentialEnc, err := s.vault.Encrypt(walletCredential)
	if err != nil {
		return nil, fmt.Errorf("encrypting wallet credential: %w", err)
	}

	enrollment := &models.Enrollment{
		UserID:              userID,
		BsimID:              provider.ID,
		Issuer:              provider.Issuer,
		WalletCredentialEnc: credentialEnc,
	}
	if identity.Subject != "" {
		enrollment.BankUserRef = &identity.Subject
	}
	if tokens.RefreshToken != "" {
		refreshEnc, err := s.vault.Encrypt(tokens.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("encrypting refresh token: %w", err)
		}
		enrollment.RefreshTokenEnc = refreshEnc
	}
	if tokens.ExpiresIn > 0 {
		expiry := time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
		enrollment.CredentialExpiresAt = &expiry
	}

	if err := s.enrollments.Upsert(ctx, enrollment); err != nil {
		return nil, fmt.Errorf("upserting enrollment: %w", err)
	}
	return enrollment, nil
}

func (s *EnrollmentService) syncCards(ctx context.Context, provider providers.Provider, userID, enrollmentID uuid.UUID, credential string) error {
	bankCards, err := s.bank.FetchCards(ctx, provider.APIBaseURL(), credential)
	if err != nil {
		return err
	}

	for _, bc := range bankCards {
		walletToken, err := models.GenerateWalletCardToken(provider.ID)
		if err != nil {
			return err
		}
		card := &models.Card{
			UserID:       userID,
			EnrollmentID: enrollmentID,
			Network:      bc.Network,
			CardType:     bc.Type,
			LastFour:     bc.LastFour,
			ExpiryMonth:  bc.ExpiryMonth,
			ExpiryYear:   bc.ExpiryYear,
			BankCardRef:  bc.ID,
			WalletToken:  walletToken,
			IsActive:     bc.Active,
		}
		if bc.CardholderName != "" {
			card.CardholderName = &bc.CardholderName
		}
		if err := s.cards.Upsert(ctx, card); err != nil {
			return err
		}
	}

	// First sync for a user leaves no default; promote the newest active card.
	return s.cards.PromoteLatestActive(ctx, userID)
}

// ListEnrollments returns the user's bank links with active card counts.
func (s *EnrollmentService) ListEnrollments(ctx context.Context, userID uuid.UUID) ([]models.EnrollmentWithCardCount, error) {
	return s.enrollments.ListByUser(ctx, userID)
}

// RemoveEnrollment deletes a bank link. Only the owning user may remove it;
// the enrollment's cards go with it and the default is reassigned.
func (s *EnrollmentService) RemoveEnrollment(ctx context.Context, userID, enrollmentID uuid.UUID) error {
	enrollment, err := s.enrollments.GetByID(ctx, enrollmentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if enrollment.UserID != userID {
		return ErrForbidden
	}
	if err := s.enrollments.Delete(ctx, enrollmentID); err != nil {
		return err
	}
	return s.cards.PromoteLatestActive(ctx, userID)
}

func (s *EnrollmentService) redirectURI(bsimID string) string {
	return fmt.Sprintf("%s/api/v1/enroll/%s/callback", s.cfg.PublicBaseURL, bsimID)
}

func (s *EnrollmentService) successRedirect(channel, bsimID string) string {
	if channel == ChannelMobile {
		return fmt.Sprintf("%s://enrollment/callback?success=true&bsimId=%s", s.cfg.MobileCallbackScheme, url.QueryEscape(bsimID))
	}
	return fmt.Sprintf("%s/wallet?enrolled=%s", s.cfg.FrontendBaseURL, url.QueryEscape(bsimID))
}

func (s *EnrollmentService) failureRedirect(channel, code, message string) string {
	if channel == ChannelMobile {
		return fmt.Sprintf("%s://enrollment/callback?success=false&error=%s&message=%s",
			s.cfg.MobileCallbackScheme, url.QueryEscape(code), url.QueryEscape(message))
	}
	return fmt.Sprintf("%s/enroll?error=%s&message=%s",
		s.cfg.FrontendBaseURL, url.QueryEscape(code), url.QueryEscape(message))
}
