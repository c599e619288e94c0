package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jordancrombie/wsim-sub002/internal/http/dto"
	"github.com/jordancrombie/wsim-sub002/internal/middleware"
	"github.com/jordancrombie/wsim-sub002/internal/services"
	"go.uber.org/zap"
)

type CardHandler struct {
	cardService *services.CardService
	log         *zap.Logger
}

func NewCardHandler(cardService *services.CardService, log *zap.Logger) *CardHandler {
	return &CardHandler{cardService: cardService, log: log}
}

func (h *CardHandler) List(c *fiber.Ctx) error {
	cards, err := h.cardService.List(c.Context(), middleware.GetUserID(c))
	if err != nil {
		h.log.Error("list cards failed", zap.Error(err))
		return serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewCardResponses(cards)})
}

func (h *CardHandler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid card id")
	}
	card, err := h.cardService.Get(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewCardResponse(card)})
}

func (h *CardHandler) SetDefault(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid card id")
	}
	card, err := h.cardService.SetDefault(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewCardResponse(card)})
}

func (h *CardHandler) Deactivate(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid card id")
	}
	if err := h.cardService.Deactivate(c.Context(), middleware.GetUserID(c), id); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}
