package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jordancrombie/wsim-sub002/internal/config"
	"github.com/jordancrombie/wsim-sub002/internal/crypto"
	"github.com/jordancrombie/wsim-sub002/internal/events"
	"github.com/jordancrombie/wsim-sub002/internal/models"
	"github.com/jordancrombie/wsim-sub002/internal/providers"
	"github.com/jordancrombie/wsim-sub002/internal/repositories"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentService owns the merchant payment-request lifecycle: creation,
// first-view binding, approval via a bank card token, merchant completion and
// cancellation. Expiry is lazy; every read path checks the deadline.
type PaymentService struct {
	payments    PaymentStore
	cards       CardStore
	enrollments EnrollmentStore
	registry    *providers.Registry
	bank        BankGateway
	vault       *crypto.Vault
	publisher   events.Publisher
	cfg         *config.Config
	log         *zap.Logger
	now         Clock
}

func NewPaymentService(
	payments PaymentStore,
	cards CardStore,
	enrollments EnrollmentStore,
	registry *providers.Registry,
	bank BankGateway,
	vault *crypto.Vault,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *PaymentService {
	return &PaymentService{
		payments:    payments,
		cards:       cards,
		enrollments: enrollments,
		registry:    registry,
		bank:        bank,
		vault:       vault,
		publisher:   publisher,
		cfg:         cfg,
		log:         log,
		now:         time.Now,
	}
}

type CreatePaymentParams struct {
	MerchantID   string
	OrderID      string
	Description  *string
	OrderDetails *models.OrderDetails
	Amount       decimal.Decimal
	Currency     string
	ReturnURL    string
}

// PaymentLinks are the two entry points handed back to the merchant for the
// shopper to open.
type PaymentLinks struct {
	DeepLink     string `json:"deepLink"`
	UniversalURL string `json:"universalUrl"`
}

// Create registers a new payment request. Any prior pending request for the
// same (merchant, order) is cancelled first so at most one is live.
func (s *PaymentService) Create(ctx context.Context, params CreatePaymentParams) (*models.PaymentRequest, *PaymentLinks, error) {
	if params.OrderID == "" {
		return nil, nil, fmt.Errorf("%w: orderId is required", ErrInvalidRequest)
	}
	if params.ReturnURL == "" {
		return nil, nil, fmt.Errorf("%w: returnUrl is required", ErrInvalidRequest)
	}
	if !params.Amount.IsPositive() {
		return nil, nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if params.Currency == "" {
		params.Currency = "AUD"
	}
	if params.OrderDetails != nil {
		if err := params.OrderDetails.Validate(); err != nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrInvalidRequest, err.Error())
		}
		// The top-level amount stays authoritative; a breakdown mismatch is
		// worth a log line, not a rejection.
		if total := params.OrderDetails.Total(); !total.Equal(params.Amount) {
			s.log.Warn("order details total does not match amount",
				zap.String("merchant_id", params.MerchantID),
				zap.String("order_id", params.OrderID),
				zap.String("amount", params.Amount.String()),
				zap.String("items_total", total.String()),
			)
		}
	}

	if cancelled, err := s.payments.CancelPendingByMerchantOrder(ctx, params.MerchantID, params.OrderID); err != nil {
		return nil, nil, err
	} else if cancelled > 0 {
		s.log.Info("superseded pending payment request",
			zap.String("merchant_id", params.MerchantID),
			zap.String("order_id", params.OrderID),
			zap.Int64("cancelled", cancelled),
		)
	}

	p := &models.PaymentRequest{
		MerchantID:   params.MerchantID,
		OrderID:      params.OrderID,
		Description:  params.Description,
		OrderDetails: params.OrderDetails,
		Amount:       params.Amount,
		Currency:     params.Currency,
		ReturnURL:    params.ReturnURL,
		Status:       models.PaymentStatusPending,
		ExpiresAt:    s.now().Add(s.cfg.PaymentRequestTTL),
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, nil, err
	}

	links := &PaymentLinks{
		DeepLink:     fmt.Sprintf("%s://payment-request/%s", s.cfg.MobileCallbackScheme, p.ID),
		UniversalURL: fmt.Sprintf("%s/pay/%s", s.cfg.FrontendBaseURL, p.ID),
	}
	return p, links, nil
}

// GetForMerchant returns the request to its owning merchant, expiring a stale
// pending request on read.
func (s *PaymentService) GetForMerchant(ctx context.Context, merchantID string, id uuid.UUID) (*models.PaymentRequest, error) {
	p, err := s.getPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.MerchantID != merchantID {
		return nil, ErrForbidden
	}
	return s.expireIfDue(ctx, p), nil
}

// View returns a pending request to a mobile user, binding the first viewer.
// A request already bound to another user is invisible to this one.
func (s *PaymentService) View(ctx context.Context, userID, id uuid.UUID) (*models.PaymentRequest, []models.Card, error) {
	p, err := s.getPayment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	p = s.expireIfDue(ctx, p)
	if p.Status == models.PaymentStatusExpired {
		return nil, nil, ErrExpired
	}
	if p.UserID != nil && *p.UserID != userID {
		return nil, nil, ErrForbidden
	}
	if p.Status != models.PaymentStatusPending {
		return nil, nil, ErrAlreadyProcessed
	}

	if p.UserID == nil {
		if _, err := s.payments.BindUser(ctx, id, userID); err != nil {
			return nil, nil, err
		}
		// Re-read: a concurrent first view may have won the bind.
		p, err = s.getPayment(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if p.UserID != nil && *p.UserID != userID {
			return nil, nil, ErrForbidden
		}
	}

	cards, err := s.cards.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return p, cards, nil
}

type ApprovePaymentParams struct {
	CardID  uuid.UUID
	Consent bool
}

// Approve performs the consented pending -> approved transition: obtains an
// ephemeral bank card token for the chosen card, stores it encrypted alongside
// a one-time redemption token and extends the deadline by the completion grace.
func (s *PaymentService) Approve(ctx context.Context, userID, id uuid.UUID, params ApprovePaymentParams) (*models.PaymentRequest, error) {
	if !params.Consent {
		return nil, fmt.Errorf("%w: consent is required", ErrInvalidRequest)
	}

	p, err := s.getPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	p = s.expireIfDue(ctx, p)
	if p.Status == models.PaymentStatusExpired {
		return nil, ErrExpired
	}
	if p.UserID != nil && *p.UserID != userID {
		return nil, ErrForbidden
	}
	if p.Status != models.PaymentStatusPending {
		return nil, ErrAlreadyProcessed
	}
	if p.UserID == nil {
		// Approval without a prior view binds here.
		if _, err := s.payments.BindUser(ctx, id, userID); err != nil {
			return nil, err
		}
	}

	card, err := s.userCard(ctx, userID, params.CardID)
	if err != nil {
		return nil, err
	}

	bankToken, err := s.bankCardToken(ctx, card, p.Amount, p.Currency)
	if err != nil {
		return nil, err
	}
	bankTokenEnc, err := s.vault.Encrypt(bankToken)
	if err != nil {
		return nil, err
	}
	redemption, err := randomHex(24)
	if err != nil {
		return nil, err
	}

	return s.applyApproval(ctx, p, repositories.ApproveParams{
		CardID:           card.ID,
		BankCardTokenEnc: bankTokenEnc,
		WalletCardToken:  card.WalletToken,
		RedemptionToken:  redemption,
	})
}

// TestApprove approves with a fabricated bank token, bypassing the bank
// round-trip. The transport layer gates it behind the shared test secret and
// refuses it in production.
func (s *PaymentService) TestApprove(ctx context.Context, userID, id uuid.UUID, params ApprovePaymentParams) (*models.PaymentRequest, error) {
	if !params.Consent {
		return nil, fmt.Errorf("%w: consent is required", ErrInvalidRequest)
	}

	p, err := s.getPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	p = s.expireIfDue(ctx, p)
	if p.Status == models.PaymentStatusExpired {
		return nil, ErrExpired
	}
	if p.UserID != nil && *p.UserID != userID {
		return nil, ErrForbidden
	}
	if p.Status != models.PaymentStatusPending {
		return nil, ErrAlreadyProcessed
	}
	if p.UserID == nil {
		if _, err := s.payments.BindUser(ctx, id, userID); err != nil {
			return nil, err
		}
	}

	card, err := s.userCard(ctx, userID, params.CardID)
	if err != nil {
		return nil, err
	}

	fabricated, err := randomHex(16)
	if err != nil {
		return nil, err
	}
	bankTokenEnc, err := s.vault.Encrypt("test_" + fabricated)
	if err != nil {
		return nil, err
	}
	redemption, err := randomHex(24)
	if err != nil {
		return nil, err
	}

	s.log.Warn("payment approved via test path",
		zap.String("payment_id", p.ID.String()),
		zap.String("user_id", userID.String()),
	)

	return s.applyApproval(ctx, p, repositories.ApproveParams{
		CardID:           card.ID,
		BankCardTokenEnc: bankTokenEnc,
		WalletCardToken:  card.WalletToken,
		RedemptionToken:  redemption,
	})
}

// CompletedPayment is the merchant's settlement view, including the decrypted
// bank card token for the charge.
type CompletedPayment struct {
	Request         *models.PaymentRequest
	BankCardToken   string
	WalletCardToken string
}

// Complete settles an approved request for the merchant. The redemption token
// is compared in constant time and consumed; the transition is refused past the
// extended deadline.
func (s *PaymentService) Complete(ctx context.Context, merchantID string, id uuid.UUID, redemptionToken string) (*CompletedPayment, error) {
	p, err := s.getPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.MerchantID != merchantID {
		return nil, ErrForbidden
	}
	if p.Status == models.PaymentStatusExpired {
		return nil, ErrExpired
	}
	if p.Status != models.PaymentStatusApproved {
		return nil, ErrAlreadyProcessed
	}
	if p.Expired(s.now()) {
		if _, err := s.payments.MarkExpired(ctx, id, models.PaymentStatusApproved); err != nil {
			return nil, err
		}
		s.publishPayment(ctx, p, models.PaymentStatusExpired)
		return nil, ErrExpired
	}
	if p.RedemptionToken == nil ||
		subtle.ConstantTimeCompare([]byte(*p.RedemptionToken), []byte(redemptionToken)) != 1 {
		return nil, fmt.Errorf("%w: invalid redemption token", ErrUnauthorized)
	}

	ok, err := s.payments.Complete(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyProcessed
	}
	s.publishPayment(ctx, p, models.PaymentStatusCompleted)

	bankToken, err := s.vault.Decrypt(p.BankCardTokenEnc)
	if err != nil {
		return nil, err
	}
	completed, err := s.getPayment(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &CompletedPayment{Request: completed, BankCardToken: bankToken}
	if p.WalletCardToken != nil {
		result.WalletCardToken = *p.WalletCardToken
	}
	return result, nil
}

// CancelByMerchant cancels a pending request on behalf of its merchant.
func (s *PaymentService) CancelByMerchant(ctx context.Context, merchantID string, id uuid.UUID) (*models.PaymentRequest, error) {
	p, err := s.getPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.MerchantID != merchantID {
		return nil, ErrForbidden
	}
	return s.cancel(ctx, p)
}

// CancelByUser lets the bound shopper decline a pending request. An unbound
// request cannot be cancelled from the mobile side.
func (s *PaymentService) CancelByUser(ctx context.Context, userID, id uuid.UUID) (*models.PaymentRequest, error) {
	p, err := s.getPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.UserID == nil || *p.UserID != userID {
		return nil, ErrForbidden
	}
	return s.cancel(ctx, p)
}

// ListForUser returns the user's payment history, newest first.
func (s *PaymentService) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.PaymentRequest, error) {
	return s.payments.ListByUser(ctx, userID, limit, offset)
}

func (s *PaymentService) cancel(ctx context.Context, p *models.PaymentRequest) (*models.PaymentRequest, error) {
	p = s.expireIfDue(ctx, p)
	if p.Status == models.PaymentStatusExpired {
		return nil, ErrExpired
	}
	if p.Status != models.PaymentStatusPending {
		return nil, ErrAlreadyProcessed
	}
	ok, err := s.payments.Cancel(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyProcessed
	}
	s.publishPayment(ctx, p, models.PaymentStatusCancelled)
	return s.getPayment(ctx, p.ID)
}

func (s *PaymentService) applyApproval(ctx context.Context, p *models.PaymentRequest, params repositories.ApproveParams) (*models.PaymentRequest, error) {
	params.NewExpiresAt = p.ExpiresAt.Add(s.cfg.PaymentCompletionGrace)
	ok, err := s.payments.Approve(ctx, p.ID, params)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the race to a cancel, another approve or an expiry sweep.
		current, err := s.getPayment(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.PaymentStatusExpired {
			return nil, ErrExpired
		}
		return nil, ErrAlreadyProcessed
	}
	s.publishPayment(ctx, p, models.PaymentStatusApproved)
	return s.getPayment(ctx, p.ID)
}

// userCard resolves a card the user may pay with. Inactive or foreign cards
// surface identically so card existence does not leak.
func (s *PaymentService) userCard(ctx context.Context, userID, cardID uuid.UUID) (*models.Card, error) {
	card, err := s.cards.GetByID(ctx, cardID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, err
	}
	if card.UserID != userID || !card.IsActive {
		return nil, ErrCardNotFound
	}
	return card, nil
}

// bankCardToken fetches an ephemeral card token from the issuing bank using
// the enrollment's wallet credential.
func (s *PaymentService) bankCardToken(ctx context.Context, card *models.Card, amount decimal.Decimal, currency string) (string, error) {
	enrollment, err := s.enrollments.GetByID(ctx, card.EnrollmentID)
	if err != nil {
		return "", fmt.Errorf("%w: enrollment lookup failed", ErrCardToken)
	}
	provider, ok := s.registry.Get(enrollment.BsimID)
	if !ok {
		return "", fmt.Errorf("%w: bank %s is not configured", ErrCardToken, enrollment.BsimID)
	}
	credential, err := s.vault.Decrypt(enrollment.WalletCredentialEnc)
	if err != nil {
		return "", fmt.Errorf("%w: credential decrypt failed", ErrCardToken)
	}

	token, err := s.bank.RequestCardToken(ctx, provider.APIBaseURL(), credential, card.BankCardRef, amount, currency)
	if err != nil {
		s.log.Error("bank card token request failed",
			zap.String("bsim_id", enrollment.BsimID),
			zap.String("card_id", card.ID.String()),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %s", ErrCardToken, err.Error())
	}
	return token, nil
}

func (s *PaymentService) getPayment(ctx context.Context, id uuid.UUID) (*models.PaymentRequest, error) {
	p, err := s.payments.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// expireIfDue lazily transitions a stale pending request and returns the
// refreshed view. Approved requests keep their extended deadline until the
// completion path checks it.
func (s *PaymentService) expireIfDue(ctx context.Context, p *models.PaymentRequest) *models.PaymentRequest {
	if p.Status != models.PaymentStatusPending || !p.Expired(s.now()) {
		return p
	}
	ok, err := s.payments.MarkExpired(ctx, p.ID, models.PaymentStatusPending)
	if err != nil {
		s.log.Warn("lazy expiry failed", zap.String("payment_id", p.ID.String()), zap.Error(err))
		return p
	}
	if ok {
		s.publishPayment(ctx, p, models.PaymentStatusExpired)
	}
	expired := *p
	expired.Status = models.PaymentStatusExpired
	return &expired
}

func (s *PaymentService) publishPayment(ctx context.Context, p *models.PaymentRequest, status string) {
	if s.publisher == nil {
		return
	}
	payload := map[string]any{
		"payment_request_id": p.ID.String(),
		"status":             status,
	}
	if p.UserID != nil {
		payload["user_id"] = p.UserID.String()
	}
	err := s.publisher.Publish(ctx, events.StreamPayment, events.Event{
		Type:    events.EventPaymentStatusChanged,
		Payload: payload,
	})
	if err != nil {
		s.log.Warn("publishing payment event failed", zap.String("payment_id", p.ID.String()), zap.Error(err))
	}
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
