package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jordancrombie/wsim-sub002/internal/models"
	"go.uber.org/zap"
)

// CardService exposes the user's card list and the default/deactivate
// operations. Card rows are created only by enrollment sync.
type CardService struct {
	cards CardStore
	log   *zap.Logger
}

func NewCardService(cards CardStore, log *zap.Logger) *CardService {
	return &CardService{cards: cards, log: log}
}

func (s *CardService) List(ctx context.Context, userID uuid.UUID) ([]models.Card, error) {
	return s.cards.ListActiveByUser(ctx, userID)
}

func (s *CardService) Get(ctx context.Context, userID, cardID uuid.UUID) (*models.Card, error) {
	card, err := s.cards.GetByID(ctx, cardID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, err
	}
	if card.UserID != userID {
		return nil, ErrCardNotFound
	}
	return card, nil
}

// SetDefault moves the single default flag to the given card.
func (s *CardService) SetDefault(ctx context.Context, userID, cardID uuid.UUID) (*models.Card, error) {
	if err := s.cards.SetDefault(ctx, userID, cardID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, err
	}
	return s.Get(ctx, userID, cardID)
}

// Deactivate soft-deletes a card. When it held the default flag the most
// recent remaining active card is promoted.
func (s *CardService) Deactivate(ctx context.Context, userID, cardID uuid.UUID) error {
	if err := s.cards.Deactivate(ctx, userID, cardID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCardNotFound
		}
		return err
	}
	return nil
}
