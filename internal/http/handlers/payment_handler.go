package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jordancrombie/wsim-sub002/internal/config"
	"github.com/jordancrombie/wsim-sub002/internal/http/dto"
	"github.com/jordancrombie/wsim-sub002/internal/middleware"
	"github.com/jordancrombie/wsim-sub002/internal/services"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentHandler serves both sides of the payment flow: the merchant API-key
// surface and the mobile bearer surface.
type PaymentHandler struct {
	paymentService *services.PaymentService
	cfg            *config.Config
	log            *zap.Logger
}

func NewPaymentHandler(paymentService *services.PaymentService, cfg *config.Config, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService, cfg: cfg, log: log}
}

func (h *PaymentHandler) Create(c *fiber.Ctx) error {
	var req dto.CreatePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return badRequest(c, "invalid amount")
	}

	payment, links, err := h.paymentService.Create(c.Context(), services.CreatePaymentParams{
		MerchantID:   middleware.GetMerchantID(c),
		OrderID:      req.OrderID,
		Description:  req.Description,
		OrderDetails: req.OrderDetails,
		Amount:       amount,
		Currency:     req.Currency,
		ReturnURL:    req.ReturnURL,
	})
	if err != nil {
		return paymentError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.CreatePaymentResponse{
		PaymentRequest: payment,
		Links:          dto.PaymentLinksResponse{DeepLink: links.DeepLink, UniversalURL: links.UniversalURL},
	}})
}

func (h *PaymentHandler) GetForMerchant(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid payment request id")
	}
	payment, err := h.paymentService.GetForMerchant(c.Context(), middleware.GetMerchantID(c), id)
	if err != nil {
		return paymentError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewMerchantPaymentResponse(payment)})
}

func (h *PaymentHandler) Complete(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid payment request id")
	}
	var req dto.CompletePaymentRequest
	if err := c.BodyParser(&req); err != nil || req.RedemptionToken == "" {
		return badRequest(c, "redemptionToken is required")
	}

	completed, err := h.paymentService.Complete(c.Context(), middleware.GetMerchantID(c), id, req.RedemptionToken)
	if err != nil {
		return paymentError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.CompletePaymentResponse{
		PaymentRequest:  completed.Request,
		BankCardToken:   completed.BankCardToken,
		WalletCardToken: completed.WalletCardToken,
	}})
}

func (h *PaymentHandler) CancelByMerchant(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid payment request id")
	}
	payment, err := h.paymentService.CancelByMerchant(c.Context(), middleware.GetMerchantID(c), id)
	if err != nil {
		return paymentError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewMerchantPaymentResponse(payment)})
}

func (h *PaymentHandler) View(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid payment request id")
	}
	payment, cards, err := h.paymentService.View(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return paymentError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.ViewPaymentResponse{
		PaymentRequest: payment,
		Cards:          dto.NewCardResponses(cards),
	}})
}

func (h *PaymentHandler) Approve(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid payment request id")
	}
	var req dto.ApprovePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	cardID, err := uuid.Parse(req.CardID)
	if err != nil {
		return badRequest(c, "invalid card id")
	}

	payment, err := h.paymentService.Approve(c.Context(), middleware.GetUserID(c), id, services.ApprovePaymentParams{
		CardID:  cardID,
		Consent: req.Consent,
	})
	if err != nil {
		return paymentError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: payment})
}

// TestApprove bypasses the bank round-trip for integration tests. It is
// disabled in production and requires the shared test secret.
func (h *PaymentHandler) TestApprove(c *fiber.Ctx) error {
	if h.cfg.IsProduction() || h.cfg.TestApproveSecret == "" {
		return writeError(c, fiber.StatusForbidden, dto.CodeForbidden, "test approval is disabled")
	}
	if c.Get("X-Test-Secret") != h.cfg.TestApproveSecret {
		return writeError(c, fiber.StatusForbidden, dto.CodeForbidden, "invalid test secret")
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid payment request id")
	}
	var req dto.ApprovePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	cardID, err := uuid.Parse(req.CardID)
	if err != nil {
		return badRequest(c, "invalid card id")
	}

	payment, err := h.paymentService.TestApprove(c.Context(), middleware.GetUserID(c), id, services.ApprovePaymentParams{
		CardID:  cardID,
		Consent: req.Consent,
	})
	if err != nil {
		return paymentError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: payment})
}

func (h *PaymentHandler) CancelByUser(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid payment request id")
	}
	payment, err := h.paymentService.CancelByUser(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return paymentError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: payment})
}

func (h *PaymentHandler) ListForUser(c *fiber.Ctx) error {
	limit, offset := 20, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	payments, err := h.paymentService.ListForUser(c.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		h.log.Error("list payments failed", zap.Error(err))
		return serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: payments})
}
