package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jordancrombie/wsim-sub002/internal/bsim"
	"github.com/jordancrombie/wsim-sub002/internal/models"
	"github.com/jordancrombie/wsim-sub002/internal/providers"
	"github.com/jordancrombie/wsim-sub002/internal/repositories"
	"github.com/shopspring/decimal"
)

// Storage dependencies are consumed through interfaces so the engines can be
// exercised against mocks. The pgx repositories are the production
// implementations.

type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateNames(ctx context.Context, id uuid.UUID, firstName, lastName *string) error
	SetPasswordIfUnset(ctx context.Context, id uuid.UUID, hash string) error
}

type EnrollmentStore interface {
	Upsert(ctx context.Context, e *models.Enrollment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Enrollment, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.EnrollmentWithCardCount, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type CardStore interface {
	Upsert(ctx context.Context, c *models.Card) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Card, error)
	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]models.Card, error)
	SetDefault(ctx context.Context, userID, cardID uuid.UUID) error
	Deactivate(ctx context.Context, userID, cardID uuid.UUID) error
	PromoteLatestActive(ctx context.Context, userID uuid.UUID) error
}

type DeviceStore interface {
	GetByDeviceID(ctx context.Context, deviceID string) (*models.Device, error)
	UpsertAnonymous(ctx context.Context, d *models.Device) error
	BindToUser(ctx context.Context, d *models.Device) error
	RegisterUserAndDevice(ctx context.Context, u *models.User, d *models.Device) error
	DeactivatePush(ctx context.Context, deviceID string) error
	TouchLastUsed(ctx context.Context, deviceID string) error
	ListActivePushByUser(ctx context.Context, userID uuid.UUID) ([]models.Device, error)
}

type RefreshTokenStore interface {
	Create(ctx context.Context, t *models.RefreshToken) error
	Get(ctx context.Context, tokenID string, userID uuid.UUID, deviceID string) (*models.RefreshToken, error)
	Rotate(ctx context.Context, oldTokenID string, next *models.RefreshToken) error
	RevokeAllForDevice(ctx context.Context, userID uuid.UUID, deviceID string) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
}

type PaymentStore interface {
	Create(ctx context.Context, p *models.PaymentRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentRequest, error)
	CancelPendingByMerchantOrder(ctx context.Context, merchantID, orderID string) (int64, error)
	BindUser(ctx context.Context, id, userID uuid.UUID) (bool, error)
	MarkExpired(ctx context.Context, id uuid.UUID, fromStatus string) (bool, error)
	Approve(ctx context.Context, id uuid.UUID, params repositories.ApproveParams) (bool, error)
	Complete(ctx context.Context, id uuid.UUID) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.PaymentRequest, error)
}

type StepUpStore interface {
	Create(ctx context.Context, s *models.StepUpRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.StepUpRequest, error)
	ListPendingByUser(ctx context.Context, userID uuid.UUID) ([]models.StepUpRequest, error)
	MarkExpired(ctx context.Context, id uuid.UUID) (bool, error)
	Reject(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	ApproveInTx(ctx context.Context, s *models.StepUpRequest, txRecord *models.AgentTransaction) error
}

type AgentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)
}

// BankGateway is the outbound BSIM surface the engines depend on.
// *bsim.Client is the production implementation.
type BankGateway interface {
	BuildAuthorizationURL(ctx context.Context, req bsim.AuthorizationRequest) (string, error)
	ExchangeCode(ctx context.Context, p providers.Provider, code, redirectURI, verifier string) (*bsim.TokenResponse, error)
	FetchCards(ctx context.Context, apiBaseURL, credential string) ([]bsim.BankCard, error)
	RequestCardToken(ctx context.Context, apiBaseURL, credential, bankCardRef string, amount decimal.Decimal, currency string) (string, error)
}

// Clock is injected where expiry arithmetic must be testable.
type Clock func() time.Time
