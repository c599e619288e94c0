package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
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
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type paymentFixture struct {
	svc         *PaymentService
	payments    *mockPaymentStore
	cards       *mockCardStore
	enrollments *mockEnrollmentStore
	bank        *mockBankGateway
	vault       *crypto.Vault
	publisher   *capturePublisher
	cfg         *config.Config
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()

	vault, err := crypto.NewVault(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	cfg := &config.Config{
		PaymentRequestTTL:      5 * time.Minute,
		PaymentCompletionGrace: time.Minute,
		MobileCallbackScheme:   "mwsim",
		FrontendBaseURL:        "http://localhost:5173",
	}
	registry := providers.NewRegistry(
		`[{"id":"anz","name":"ANZ","issuer":"http://localhost:4000"}]`, zap.NewNop())

	f := &paymentFixture{
		payments:    &mockPaymentStore{},
		cards:       &mockCardStore{},
		enrollments: &mockEnrollmentStore{},
		bank:        &mockBankGateway{},
		vault:       vault,
		publisher:   &capturePublisher{},
		cfg:         cfg,
	}
	f.svc = &PaymentService{
		payments:    f.payments,
		cards:       f.cards,
		enrollments: f.enrollments,
		registry:    registry,
		bank:        f.bank,
		vault:       vault,
		publisher:   f.publisher,
		cfg:         cfg,
		log:         zap.NewNop(),
		now:         func() time.Time { return testTime },
	}
	return f
}

func pendingPayment(userID *uuid.UUID) *models.PaymentRequest {
	return &models.PaymentRequest{
		ID:         uuid.New(),
		MerchantID: "merchant-1",
		OrderID:    "order-1",
		Amount:     decimal.NewFromFloat(42.50),
		Currency:   "AUD",
		ReturnURL:  "https://shop.example.com/return",
		Status:     models.PaymentStatusPending,
		UserID:     userID,
		ExpiresAt:  testTime.Add(2 * time.Minute),
	}
}

func TestPaymentCreateValidation(t *testing.T) {
	f := newPaymentFixture(t)

	tests := []struct {
		name   string
		params CreatePaymentParams
	}{
		{"missing order id", CreatePaymentParams{
			MerchantID: "m", ReturnURL: "https://x", Amount: decimal.NewFromInt(1)}},
		{"missing return url", CreatePaymentParams{
			MerchantID: "m", OrderID: "o", Amount: decimal.NewFromInt(1)}},
		{"zero amount", CreatePaymentParams{
			MerchantID: "m", OrderID: "o", ReturnURL: "https://x", Amount: decimal.Zero}},
		{"negative amount", CreatePaymentParams{
			MerchantID: "m", OrderID: "o", ReturnURL: "https://x", Amount: decimal.NewFromInt(-5)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.svc.Create(context.Background(), tt.params)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	f.payments.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestPaymentCreateSupersedesPending(t *testing.T) {
	f := newPaymentFixture(t)

	f.payments.On("CancelPendingByMerchantOrder", mock.Anything, "merchant-1", "order-1").
		Return(int64(1), nil).Once()
	f.payments.On("Create", mock.Anything, mock.MatchedBy(func(p *models.PaymentRequest) bool {
		return p.Status == models.PaymentStatusPending &&
			p.Currency == "AUD" &&
			p.ExpiresAt.Equal(testTime.Add(f.cfg.PaymentRequestTTL))
	})).Return(nil).Once()

	p, links, err := f.svc.Create(context.Background(), CreatePaymentParams{
		MerchantID: "merchant-1",
		OrderID:    "order-1",
		Amount:     decimal.NewFromFloat(42.50),
		ReturnURL:  "https://shop.example.com/return",
	})
	require.NoError(t, err)
	require.Equal(t, "mwsim://payment-request/"+p.ID.String(), links.DeepLink)
	require.Equal(t, "http://localhost:5173/pay/"+p.ID.String(), links.UniversalURL)
	f.payments.AssertExpectations(t)
}

func TestPaymentViewBindsFirstViewer(t *testing.T) {
	f := newPaymentFixture(t)
	userID := uuid.New()
	p := pendingPayment(nil)
	bound := *p
	bound.UserID = &userID

	f.payments.On("GetByID", mock.Anything, p.ID).Return(p, nil).Once()
	f.payments.On("BindUser", mock.Anything, p.ID, userID).Return(true, nil).Once()
	f.payments.On("GetByID", mock.Anything, p.ID).Return(&bound, nil).Once()
	f.cards.On("ListActiveByUser", mock.Anything, userID).Return([]models.Card{}, nil).Once()

	got, _, err := f.svc.View(context.Background(), userID, p.ID)
	require.NoError(t, err)
	require.Equal(t, userID, *got.UserID)
	f.payments.AssertExpectations(t)
}

func TestPaymentViewForeignUser(t *testing.T) {
	f := newPaymentFixture(t)
	owner := uuid.New()
	p := pendingPayment(&owner)

	f.payments.On("GetByID", mock.Anything, p.ID).Return(p, nil).Once()

	_, _, err := f.svc.View(context.Background(), uuid.New(), p.ID)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestPaymentViewExpiresLazily(t *testing.T) {
	f := newPaymentFixture(t)
	userID := uuid.New()
	p := pendingPayment(&userID)
	p.ExpiresAt = testTime.Add(-time.Second)

	f.payments.On("GetByID", mock.Anything, p.ID).Return(p, nil).Once()
	f.payments.On("MarkExpired", mock.Anything, p.ID, models.PaymentStatusPending).
		Return(true, nil).Once()

	_, _, err := f.svc.View(context.Background(), userID, p.ID)
	require.ErrorIs(t, err, ErrExpired)

	published := f.publisher.byType(events.EventPaymentStatusChanged)
	require.Len(t, published, 1)
	require.Equal(t, models.PaymentStatusExpired, published[0].event.Payload["status"])
	f.payments.AssertExpectations(t)
}

func TestPaymentApprove(t *testing.T) {
	f := newPaymentFixture(t)
	userID := uuid.New()
	enrollmentID := uuid.New()
	p := pendingPayment(&userID)

	credentialEnc, err := f.vault.Encrypt("wallet-credential")
	require.NoError(t, err)

	card := &models.Card{
		ID:           uuid.New(),
		UserID:       userID,
		EnrollmentID: enrollmentID,
		BankCardRef:  "bank-card-1",
		WalletToken:  "wsim_anz_00112233445566778899aabbccddeeff",
		IsActive:     true,
	}
	approved := *p
	approved.Status = models.PaymentStatusApproved

	f.payments.On("GetByID", mock.Anything, p.ID).Return(p, nil).Once()
	f.cards.On("GetByID", mock.Anything, card.ID).Return(card, nil).Once()
	f.enrollments.On("GetByID", mock.Anything, enrollmentID).Return(&models.Enrollment{
		ID:                  enrollmentID,
		UserID:              userID,
		BsimID:              "anz",
		WalletCredentialEnc: credentialEnc,
	}, nil).Once()
	f.bank.On("RequestCardToken", mock.Anything, "http://localhost:4001",
		"wallet-credential", "bank-card-1", p.Amount, "AUD").
		Return("tok_bank_abc", nil).Once()
	f.payments.On("Approve", mock.Anything, p.ID,
		mock.MatchedBy(func(params repositories.ApproveParams) bool {
			token, err := f.vault.Decrypt(params.BankCardTokenEnc)
			return params.CardID == card.ID &&
				params.WalletCardToken == card.WalletToken &&
				len(params.RedemptionToken) == 48 &&
				params.NewExpiresAt.Equal(p.ExpiresAt.Add(f.cfg.PaymentCompletionGrace)) &&
				err == nil && token == "tok_bank_abc"
		})).Return(true, nil).Once()
	f.payments.On("GetByID", mock.Anything, p.ID).Return(&approved, nil).Once()

	got, err := f.svc.Approve(context.Background(), userID, p.ID, ApprovePaymentParams{
		CardID: card.ID, Consent: true,
	})
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusApproved, got.Status)

	published := f.publisher.byType(events.EventPaymentStatusChanged)
	require.Len(t, published, 1)
	require.Equal(t, userID.String(), published[0].event.Payload["user_id"])
	f.payments.AssertExpectations(t)
	f.bank.AssertExpectations(t)
}

func TestPaymentApproveWithoutConsent(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.svc.Approve(context.Background(), uuid.New(), uuid.New(), ApprovePaymentParams{
		CardID: uuid.New(), Consent: false,
	})
	require.ErrorIs(t, err, ErrInvalidRequest)
	f.payments.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestPaymentApproveForeignCard(t *testing.T) {
	f := newPaymentFixture(t)
	userID := uuid.New()
	p := pendingPayment(&userID)
	cardID := uuid.New()

	f.payments.On("GetByID", mock.Anything, p.ID).Return(p, nil).Once()
	f.cards.On("GetByID", mock.Anything, cardID).Return(&models.Card{
		ID:       cardID,
		UserID:   uuid.New(),
		IsActive: true,
	}, nil).Once()

	_, err := f.svc.Approve(context.Background(), userID, p.ID, ApprovePaymentParams{
		CardID: cardID, Consent: true,
	})
	require.ErrorIs(t, err, ErrCardNotFound)
}

func TestPaymentApproveBankFailure(t *testing.T) {
	f := newPaymentFixture(t)
	userID := uuid.New()
	enrollmentID := uuid.New()
	p := pendingPayment(&userID)

	credentialEnc, err := f.vault.Encrypt("wallet-credential")
	require.NoError(t, err)

	card := &models.Card{
		ID:           uuid.New(),
		UserID:       userID,
		EnrollmentID: enrollmentID,
		BankCardRef:  "bank-card-1",
		IsActive:     true,
	}

	f.payments.On("GetByID", mock.Anything, p.ID).Return(p, nil).Once()
	f.cards.On("GetByID", mock.Anything, card.ID).Return(card, nil).Once()
	f.enrollments.On("GetByID", mock.Anything, enrollmentID).Return(&models.Enrollment{
		ID:                  enrollmentID,
		BsimID:              "anz",
		WalletCredentialEnc: credentialEnc,
	}, nil).Once()
	f.bank.On("RequestCardToken", mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("bank unavailable")).Once()

	_, err = f.svc.Approve(context.Background(), userID, p.ID, ApprovePaymentParams{
		CardID: card.ID, Consent: true,
	})
	require.ErrorIs(t, err, ErrCardToken)
	f.payments.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentComplete(t *testing.T) {
	f := newPaymentFixture(t)
	userID := uuid.New()
	redemption := "a1b2c3"
	walletToken := "wsim_anz_00112233445566778899aabbccddeeff"

	bankTokenEnc, err := f.vault.Encrypt("tok_bank_abc")
	require.NoError(t, err)

	p := pendingPayment(&userID)
	p.Status = models.PaymentStatusApproved
	p.ExpiresAt = testTime.Add(time.Minute)
	p.BankCardTokenEnc = bankTokenEnc
	p.WalletCardToken = &walletToken
	p.RedemptionToken = &redemption

	completed := *p
	completed.Status = models.PaymentStatusCompleted

	f.payments.On("GetByID", mock.Anything, p.ID).Return(p, nil).Once()
	f.payments.On("Complete", mock.Anything, p.ID).Return(true, nil).Once()
	f.payments.On("GetByID", mock.Anything, p.ID).Return(&completed, nil).Once()

	got, err := f.svc.Complete(context.Background(), "merchant-1", p.ID, redemption)
	require.NoError(t, err)
	require.Equal(t, "tok_bank_abc", got.BankCardToken)
	require.Equal(t, walletToken, got.WalletCardToken)
	require.Equal(t, models.PaymentStatusCompleted, got.Request.Status)
	f.payments.AssertExpectations(t)
}

func TestPaymentCompleteBadRedemptionToken(t *testing.T) {
	f := newPaymentFixture(t)
	userID := uuid.New()
	redemption := "a1b2c3"

	p := pendingPayment(&userID)
	p.Status = models.PaymentStatusApproved
	p.ExpiresAt = testTime.Add(time.Minute)
	p.RedemptionToken = &redemption

	f.payments.On("GetByID", mock.Anything, p.ID).Return(p, nil).Once()

	_, err := f.svc.Complete(context.Background(), "merchant-1", p.ID, "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)
	f.payments.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestPaymentCompleteAfterGrace(t *testing.T) {
	f := newPaymentFixture(t)
	userID := uuid.New()
	redemption := "a1b2c3"

	p := pendingPayment(&userID)
	p.Status = models.PaymentStatusApproved
	p.ExpiresAt = testTime.Add(-time.Second)
	p.RedemptionToken = &redemption

	f.payments.On("GetByID", mock.Anything, p.ID).Return(p, nil).Once()
	f.payments.On("MarkExpired", mock.Anything, p.ID, models.PaymentStatusApproved).
		Return(true, nil).Once()

	_, err := f.svc.Complete(context.Background(), "merchant-1", p.ID, redemption)
	require.ErrorIs(t, err, ErrExpired)
	f.payments.AssertExpectations(t)
}

func TestPaymentCompleteWrongMerchant(t *testing.T) {
	f := newPaymentFixture(t)
	p := pendingPayment(nil)
	p.Status = models.PaymentStatusApproved

	f.payments.On("GetByID", mock.Anything, p.ID).Return(p, nil).Once()

	_, err := f.svc.Complete(context.Background(), "merchant-2", p.ID, "x")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestPaymentCompleteTwice(t *testing.T) {
	f := newPaymentFixture(t)
	p := pendingPayment(nil)
	p.Status = models.PaymentStatusCompleted

	f.payments.On("GetByID", mock.Anything, p.ID).Return(p, nil).Once()

	_, err := f.svc.Complete(context.Background(), "merchant-1", p.ID, "x")
	require.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestPaymentCancelByUserRequiresBinding(t *testing.T) {
	f := newPaymentFixture(t)
	p := pendingPayment(nil)

	f.payments.On("GetByID", mock.Anything, p.ID).Return(p, nil).Once()

	_, err := f.svc.CancelByUser(context.Background(), uuid.New(), p.ID)
	require.ErrorIs(t, err, ErrForbidden)
	f.payments.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything)
}

func TestPaymentNotFound(t *testing.T) {
	f := newPaymentFixture(t)
	id := uuid.New()

	f.payments.On("GetByID", mock.Anything, id).Return(nil, pgx.ErrNoRows).Once()

	_, err := f.svc.GetForMerchant(context.Background(), "merchant-1", id)
	require.ErrorIs(t, err, ErrNotFound)
}
