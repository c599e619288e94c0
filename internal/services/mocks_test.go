package services

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jordancrombie/wsim-sub002/internal/bsim"
	"github.com/jordancrombie/wsim-sub002/internal/events"
	"github.com/jordancrombie/wsim-sub002/internal/models"
	"github.com/jordancrombie/wsim-sub002/internal/providers"
	"github.com/jordancrombie/wsim-sub002/internal/repositories"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type mockPaymentStore struct{ mock.Mock }

func (m *mockPaymentStore) Create(ctx context.Context, p *models.PaymentRequest) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockPaymentStore) GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentRequest, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*models.PaymentRequest)
	return p, args.Error(1)
}

func (m *mockPaymentStore) CancelPendingByMerchantOrder(ctx context.Context, merchantID, orderID string) (int64, error) {
	args := m.Called(ctx, merchantID, orderID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockPaymentStore) BindUser(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, id, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockPaymentStore) MarkExpired(ctx context.Context, id uuid.UUID, fromStatus string) (bool, error) {
	args := m.Called(ctx, id, fromStatus)
	return args.Bool(0), args.Error(1)
}

func (m *mockPaymentStore) Approve(ctx context.Context, id uuid.UUID, params repositories.ApproveParams) (bool, error) {
	args := m.Called(ctx, id, params)
	return args.Bool(0), args.Error(1)
}

func (m *mockPaymentStore) Complete(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockPaymentStore) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockPaymentStore) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.PaymentRequest, error) {
	args := m.Called(ctx, userID, limit, offset)
	list, _ := args.Get(0).([]models.PaymentRequest)
	return list, args.Error(1)
}

type mockCardStore struct{ mock.Mock }

func (m *mockCardStore) Upsert(ctx context.Context, c *models.Card) error {
	return m.Called(ctx, c).Error(0)
}

func (m *mockCardStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Card, error) {
	args := m.Called(ctx, id)
	c, _ := args.Get(0).(*models.Card)
	return c, args.Error(1)
}

func (m *mockCardStore) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]models.Card, error) {
	args := m.Called(ctx, userID)
	list, _ := args.Get(0).([]models.Card)
	return list, args.Error(1)
}

func (m *mockCardStore) SetDefault(ctx context.Context, userID, cardID uuid.UUID) error {
	return m.Called(ctx, userID, cardID).Error(0)
}

func (m *mockCardStore) Deactivate(ctx context.Context, userID, cardID uuid.UUID) error {
	return m.Called(ctx, userID, cardID).Error(0)
}

func (m *mockCardStore) PromoteLatestActive(ctx context.Context, userID uuid.UUID) error {
	return m.Called(ctx, userID).Error(0)
}

type mockEnrollmentStore struct{ mock.Mock }

func (m *mockEnrollmentStore) Upsert(ctx context.Context, e *models.Enrollment) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockEnrollmentStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Enrollment, error) {
	args := m.Called(ctx, id)
	e, _ := args.Get(0).(*models.Enrollment)
	return e, args.Error(1)
}

func (m *mockEnrollmentStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.EnrollmentWithCardCount, error) {
	args := m.Called(ctx, userID)
	list, _ := args.Get(0).([]models.EnrollmentWithCardCount)
	return list, args.Error(1)
}

func (m *mockEnrollmentStore) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

type mockUserStore struct{ mock.Mock }

func (m *mockUserStore) Create(ctx context.Context, u *models.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *mockUserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *mockUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *mockUserStore) UpdateNames(ctx context.Context, id uuid.UUID, firstName, lastName *string) error {
	return m.Called(ctx, id, firstName, lastName).Error(0)
}

func (m *mockUserStore) SetPasswordIfUnset(ctx context.Context, id uuid.UUID, hash string) error {
	return m.Called(ctx, id, hash).Error(0)
}

type mockDeviceStore struct{ mock.Mock }

func (m *mockDeviceStore) GetByDeviceID(ctx context.Context, deviceID string) (*models.Device, error) {
	args := m.Called(ctx, deviceID)
	d, _ := args.Get(0).(*models.Device)
	return d, args.Error(1)
}

func (m *mockDeviceStore) UpsertAnonymous(ctx context.Context, d *models.Device) error {
	return m.Called(ctx, d).Error(0)
}

func (m *mockDeviceStore) BindToUser(ctx context.Context, d *models.Device) error {
	return m.Called(ctx, d).Error(0)
}

func (m *mockDeviceStore) RegisterUserAndDevice(ctx context.Context, u *models.User, d *models.Device) error {
	return m.Called(ctx, u, d).Error(0)
}

func (m *mockDeviceStore) DeactivatePush(ctx context.Context, deviceID string) error {
	return m.Called(ctx, deviceID).Error(0)
}

func (m *mockDeviceStore) TouchLastUsed(ctx context.Context, deviceID string) error {
	return m.Called(ctx, deviceID).Error(0)
}

func (m *mockDeviceStore) ListActivePushByUser(ctx context.Context, userID uuid.UUID) ([]models.Device, error) {
	args := m.Called(ctx, userID)
	list, _ := args.Get(0).([]models.Device)
	return list, args.Error(1)
}

type mockRefreshTokenStore struct{ mock.Mock }

func (m *mockRefreshTokenStore) Create(ctx context.Context, t *models.RefreshToken) error {
	return m.Called(ctx, t).Error(0)
}

func (m *mockRefreshTokenStore) Get(ctx context.Context, tokenID string, userID uuid.UUID, deviceID string) (*models.RefreshToken, error) {
	args := m.Called(ctx, tokenID, userID, deviceID)
	t, _ := args.Get(0).(*models.RefreshToken)
	return t, args.Error(1)
}

func (m *mockRefreshTokenStore) Rotate(ctx context.Context, oldTokenID string, next *models.RefreshToken) error {
	return m.Called(ctx, oldTokenID, next).Error(0)
}

func (m *mockRefreshTokenStore) RevokeAllForDevice(ctx context.Context, userID uuid.UUID, deviceID string) error {
	return m.Called(ctx, userID, deviceID).Error(0)
}

func (m *mockRefreshTokenStore) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	return m.Called(ctx, userID).Error(0)
}

type mockStepUpStore struct{ mock.Mock }

func (m *mockStepUpStore) Create(ctx context.Context, s *models.StepUpRequest) error {
	return m.Called(ctx, s).Error(0)
}

func (m *mockStepUpStore) GetByID(ctx context.Context, id uuid.UUID) (*models.StepUpRequest, error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).(*models.StepUpRequest)
	return s, args.Error(1)
}

func (m *mockStepUpStore) ListPendingByUser(ctx context.Context, userID uuid.UUID) ([]models.StepUpRequest, error) {
	args := m.Called(ctx, userID)
	list, _ := args.Get(0).([]models.StepUpRequest)
	return list, args.Error(1)
}

func (m *mockStepUpStore) MarkExpired(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockStepUpStore) Reject(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	args := m.Called(ctx, id, reason)
	return args.Bool(0), args.Error(1)
}

func (m *mockStepUpStore) ApproveInTx(ctx context.Context, s *models.StepUpRequest, txRecord *models.AgentTransaction) error {
	return m.Called(ctx, s, txRecord).Error(0)
}

type mockAgentStore struct{ mock.Mock }

func (m *mockAgentStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	args := m.Called(ctx, id)
	a, _ := args.Get(0).(*models.Agent)
	return a, args.Error(1)
}

type mockBankGateway struct{ mock.Mock }

func (m *mockBankGateway) BuildAuthorizationURL(ctx context.Context, req bsim.AuthorizationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockBankGateway) ExchangeCode(ctx context.Context, p providers.Provider, code, redirectURI, verifier string) (*bsim.TokenResponse, error) {
	args := m.Called(ctx, p, code, redirectURI, verifier)
	resp, _ := args.Get(0).(*bsim.TokenResponse)
	return resp, args.Error(1)
}

func (m *mockBankGateway) FetchCards(ctx context.Context, apiBaseURL, credential string) ([]bsim.BankCard, error) {
	args := m.Called(ctx, apiBaseURL, credential)
	cards, _ := args.Get(0).([]bsim.BankCard)
	return cards, args.Error(1)
}

func (m *mockBankGateway) RequestCardToken(ctx context.Context, apiBaseURL, credential, bankCardRef string, amount decimal.Decimal, currency string) (string, error) {
	args := m.Called(ctx, apiBaseURL, credential, bankCardRef, amount, currency)
	return args.String(0), args.Error(1)
}

// capturePublisher records published events in order for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	stream string
	event  events.Event
}

func (p *capturePublisher) Publish(_ context.Context, stream string, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, capturedEvent{stream: stream, event: e})
	return nil
}

func (p *capturePublisher) byType(eventType string) []capturedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []capturedEvent
	for _, e := range p.events {
		if e.event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type noopMailer struct{}

func (noopMailer) SendLoginCode(context.Context, string, string) error { return nil }

type noopPushSender struct{}

func (noopPushSender) Send(context.Context, string, string, string, string) error { return nil }
