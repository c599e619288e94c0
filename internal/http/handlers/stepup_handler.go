package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jordancrombie/wsim-sub002/internal/http/dto"
	"github.com/jordancrombie/wsim-sub002/internal/middleware"
	"github.com/jordancrombie/wsim-sub002/internal/services"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type StepUpHandler struct {
	stepUpService *services.StepUpService
	log           *zap.Logger
}

func NewStepUpHandler(stepUpService *services.StepUpService, log *zap.Logger) *StepUpHandler {
	return &StepUpHandler{stepUpService: stepUpService, log: log}
}

// Create is the agent-facing entry point, guarded by the merchant API key.
func (h *StepUpHandler) Create(c *fiber.Ctx) error {
	agentID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid agent id")
	}
	var req dto.CreateStepUpRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return badRequest(c, "invalid amount")
	}

	params := services.CreateStepUpParams{
		Amount:       amount,
		Currency:     req.Currency,
		MerchantName: req.MerchantName,
		SessionID:    req.SessionID,
		Reason:       req.Reason,
		TriggerType:  req.TriggerType,
	}
	if req.RequestedCardID != nil {
		cardID, err := uuid.Parse(*req.RequestedCardID)
		if err != nil {
			return badRequest(c, "invalid requested card id")
		}
		params.RequestedCardID = &cardID
	}

	stepup, err := h.stepUpService.Create(c.Context(), agentID, params)
	if err != nil {
		return serviceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: stepup})
}

func (h *StepUpHandler) ListPending(c *fiber.Ctx) error {
	stepups, err := h.stepUpService.ListPending(c.Context(), middleware.GetUserID(c))
	if err != nil {
		h.log.Error("list step-ups failed", zap.Error(err))
		return serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: stepups})
}

func (h *StepUpHandler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid step-up id")
	}
	stepup, err := h.stepUpService.Get(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: stepup})
}

func (h *StepUpHandler) Approve(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid step-up id")
	}
	var req dto.ApproveStepUpRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	params := services.ApproveStepUpParams{Consent: req.Consent}
	if req.CardID != nil {
		cardID, err := uuid.Parse(*req.CardID)
		if err != nil {
			return badRequest(c, "invalid card id")
		}
		params.CardID = &cardID
	}

	stepup, err := h.stepUpService.Approve(c.Context(), middleware.GetUserID(c), id, params)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: stepup})
}

func (h *StepUpHandler) Reject(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid step-up id")
	}
	var req dto.RejectStepUpRequest
	_ = c.BodyParser(&req)

	stepup, err := h.stepUpService.Reject(c.Context(), middleware.GetUserID(c), id, req.Reason)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: stepup})
}
