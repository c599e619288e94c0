package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jordancrombie/wsim-sub002/internal/config"
	"github.com/jordancrombie/wsim-sub002/internal/events"
	"github.com/jordancrombie/wsim-sub002/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StepUpService handles agent-initiated authorization requests that exceeded a
// spending limit and need an explicit human decision on the phone.
type StepUpService struct {
	stepups   StepUpStore
	agents    AgentStore
	cards     CardStore
	devices   DeviceStore
	push      PushSender
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
	now       Clock
}

func NewStepUpService(
	stepups StepUpStore,
	agents AgentStore,
	cards CardStore,
	devices DeviceStore,
	push PushSender,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *StepUpService {
	return &StepUpService{
		stepups:   stepups,
		agents:    agents,
		cards:     cards,
		devices:   devices,
		push:      push,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

type CreateStepUpParams struct {
	Amount          decimal.Decimal
	Currency        string
	MerchantName    string
	SessionID       *string
	Reason          *string
	TriggerType     string
	RequestedCardID *uuid.UUID
}

var validTriggers = map[string]bool{
	models.StepUpTriggerPerTransaction: true,
	models.StepUpTriggerDailyLimit:     true,
	models.StepUpTriggerMonthlyLimit:   true,
}

// Create records a pending step-up for the agent's owner and notifies their
// devices. Push failures do not fail the request.
func (s *StepUpService) Create(ctx context.Context, agentID uuid.UUID, params CreateStepUpParams) (*models.StepUpRequest, error) {
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if params.MerchantName == "" {
		return nil, fmt.Errorf("%w: merchantName is required", ErrInvalidRequest)
	}
	if !validTriggers[params.TriggerType] {
		return nil, fmt.Errorf("%w: unknown trigger type %q", ErrInvalidRequest, params.TriggerType)
	}
	if params.Currency == "" {
		params.Currency = "AUD"
	}

	agent, err := s.agents.GetByID(ctx, agentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	req := &models.StepUpRequest{
		AgentID:         agentID,
		Amount:          params.Amount,
		Currency:        params.Currency,
		MerchantName:    params.MerchantName,
		SessionID:       params.SessionID,
		Reason:          params.Reason,
		TriggerType:     params.TriggerType,
		RequestedCardID: params.RequestedCardID,
		Status:          models.StepUpStatusPending,
		ExpiresAt:       s.now().Add(s.cfg.StepUpTTL),
	}
	if err := s.stepups.Create(ctx, req); err != nil {
		return nil, err
	}

	s.notifyOwner(ctx, agent, req)
	s.publishStepUp(ctx, events.EventStepUpCreated, req.ID, agent.UserID, req.Status)
	return req, nil
}

// Get returns one step-up to its owning user, lazily expiring it.
func (s *StepUpService) Get(ctx context.Context, userID, id uuid.UUID) (*models.StepUpRequest, error) {
	req, _, err := s.ownedStepUp(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return s.expireIfDue(ctx, userID, req), nil
}

// ListPending returns the user's open step-ups, newest first. Stale entries
// are expired in passing so the list never shows an actionable dead request.
func (s *StepUpService) ListPending(ctx context.Context, userID uuid.UUID) ([]models.StepUpRequest, error) {
	pending, err := s.stepups.ListPendingByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	live := make([]models.StepUpRequest, 0, len(pending))
	for i := range pending {
		req := s.expireIfDue(ctx, userID, &pending[i])
		if req.Status == models.StepUpStatusPending {
			live = append(live, *req)
		}
	}
	return live, nil
}

type ApproveStepUpParams struct {
	CardID  *uuid.UUID
	Consent bool
}

// Approve resolves a pending step-up with the chosen card (the agent's
// requested card when none is overridden) and records the matching agent
// transaction atomically.
func (s *StepUpService) Approve(ctx context.Context, userID, id uuid.UUID, params ApproveStepUpParams) (*models.StepUpRequest, error) {
	if !params.Consent {
		return nil, fmt.Errorf("%w: consent is required", ErrInvalidRequest)
	}

	req, _, err := s.ownedStepUp(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if req.Status != models.StepUpStatusPending {
		return nil, ErrAlreadyProcessed
	}
	if req.Expired(s.now()) {
		if ok, err := s.stepups.MarkExpired(ctx, id); err != nil {
			return nil, err
		} else if ok {
			s.publishStepUp(ctx, events.EventStepUpStatusChanged, id, userID, models.StepUpStatusExpired)
		}
		return nil, ErrExpired
	}

	cardID := req.RequestedCardID
	if params.CardID != nil {
		cardID = params.CardID
	}
	if cardID == nil {
		return nil, ErrCardNotFound
	}
	card, err := s.cards.GetByID(ctx, *cardID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, err
	}
	if card.UserID != userID || !card.IsActive {
		return nil, ErrCardNotFound
	}

	txRecord := &models.AgentTransaction{
		AgentID:      req.AgentID,
		StepUpID:     &req.ID,
		CardID:       card.ID,
		Amount:       req.Amount,
		Currency:     req.Currency,
		MerchantName: req.MerchantName,
		Status:       "authorized",
	}
	req.ApprovedCardID = &card.ID
	if err := s.stepups.ApproveInTx(ctx, req, txRecord); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlreadyProcessed
		}
		return nil, err
	}

	s.publishStepUp(ctx, events.EventStepUpStatusChanged, req.ID, userID, models.StepUpStatusApproved)
	return s.stepups.GetByID(ctx, req.ID)
}

// Reject declines a step-up. A rejection arriving after expiry is still
// recorded so the agent learns the decision rather than a timeout.
func (s *StepUpService) Reject(ctx context.Context, userID, id uuid.UUID, reason string) (*models.StepUpRequest, error) {
	req, _, err := s.ownedStepUp(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if req.Status == models.StepUpStatusApproved || req.Status == models.StepUpStatusRejected {
		return nil, ErrAlreadyProcessed
	}
	if reason == "" {
		reason = "declined by user"
	}
	if req.Status == models.StepUpStatusPending && req.Expired(s.now()) {
		reason = reason + " (after expiry)"
	}

	ok, err := s.stepups.Reject(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyProcessed
	}
	s.publishStepUp(ctx, events.EventStepUpStatusChanged, id, userID, models.StepUpStatusRejected)
	return s.stepups.GetByID(ctx, id)
}

// ownedStepUp loads a step-up and checks that the caller owns the agent behind
// it.
func (s *StepUpService) ownedStepUp(ctx context.Context, userID, id uuid.UUID) (*models.StepUpRequest, *models.Agent, error) {
	req, err := s.stepups.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	agent, err := s.agents.GetByID(ctx, req.AgentID)
	if err != nil {
		return nil, nil, err
	}
	if agent.UserID != userID {
		return nil, nil, ErrForbidden
	}
	return req, agent, nil
}

func (s *StepUpService) expireIfDue(ctx context.Context, userID uuid.UUID, req *models.StepUpRequest) *models.StepUpRequest {
	if req.Status != models.StepUpStatusPending || !req.Expired(s.now()) {
		return req
	}
	ok, err := s.stepups.MarkExpired(ctx, req.ID)
	if err != nil {
		s.log.Warn("lazy step-up expiry failed", zap.String("stepup_id", req.ID.String()), zap.Error(err))
		return req
	}
	if ok {
		s.publishStepUp(ctx, events.EventStepUpStatusChanged, req.ID, userID, models.StepUpStatusExpired)
	}
	expired := *req
	expired.Status = models.StepUpStatusExpired
	return &expired
}

func (s *StepUpService) notifyOwner(ctx context.Context, agent *models.Agent, req *models.StepUpRequest) {
	devices, err := s.devices.ListActivePushByUser(ctx, agent.UserID)
	if err != nil {
		s.log.Warn("listing push devices failed", zap.String("user_id", agent.UserID.String()), zap.Error(err))
		return
	}
	title := "Authorization needed"
	body := fmt.Sprintf("%s wants to spend %s %s at %s", agent.Name, req.Amount.StringFixed(2), req.Currency, req.MerchantName)
	for _, d := range devices {
		if d.PushToken == nil {
			continue
		}
		tokenType := ""
		if d.PushTokenType != nil {
			tokenType = *d.PushTokenType
		}
		if err := s.push.Send(ctx, *d.PushToken, tokenType, title, body); err != nil {
			s.log.Warn("push send failed", zap.String("device_id", d.DeviceID), zap.Error(err))
		}
	}
}

func (s *StepUpService) publishStepUp(ctx context.Context, eventType string, id, userID uuid.UUID, status string) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, events.StreamStepUp, events.Event{
		Type: eventType,
		Payload: map[string]any{
			"step_up_id": id.String(),
			"user_id":    userID.String(),
			"status":     status,
		},
	})
	if err != nil {
		s.log.Warn("publishing step-up event failed", zap.String("stepup_id", id.String()), zap.Error(err))
	}
}
