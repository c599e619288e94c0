package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/jordancrombie/wsim-sub002/internal/http/dto"
	"github.com/jordancrombie/wsim-sub002/internal/middleware"
	"github.com/jordancrombie/wsim-sub002/internal/services"
)

// paymentError maps service sentinels to the payment error-code table.
func paymentError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, dto.CodePaymentNotFound, "payment request not found")
	case errors.Is(err, services.ErrExpired):
		return writeError(c, fiber.StatusGone, dto.CodePaymentExpired, "payment request expired")
	case errors.Is(err, services.ErrAlreadyProcessed):
		return writeError(c, fiber.StatusConflict, dto.CodePaymentAlreadyProcessed, "payment request already processed")
	case errors.Is(err, services.ErrCardNotFound):
		return writeError(c, fiber.StatusNotFound, dto.CodeCardNotFound, "card not found")
	case errors.Is(err, services.ErrCardToken):
		return writeError(c, fiber.StatusBadGateway, dto.CodeCardTokenError, "card token request failed")
	default:
		return serviceError(c, err)
	}
}

// serviceError maps the shared sentinels; anything unmatched is an internal
// error with the detail kept out of the response.
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, dto.CodeNotFound, "not found")
	case errors.Is(err, services.ErrExpired):
		return writeError(c, fiber.StatusGone, dto.CodePaymentExpired, "expired")
	case errors.Is(err, services.ErrAlreadyProcessed):
		return writeError(c, fiber.StatusConflict, dto.CodePaymentAlreadyProcessed, "already processed")
	case errors.Is(err, services.ErrCardNotFound):
		return writeError(c, fiber.StatusNotFound, dto.CodeCardNotFound, "card not found")
	case errors.Is(err, services.ErrUnauthorized):
		return writeError(c, fiber.StatusUnauthorized, dto.CodeUnauthorized, "unauthorized")
	case errors.Is(err, services.ErrForbidden):
		return writeError(c, fiber.StatusForbidden, dto.CodeForbidden, "forbidden")
	case errors.Is(err, services.ErrInvalidRequest):
		return writeError(c, fiber.StatusBadRequest, dto.CodeInvalidRequest, err.Error())
	default:
		return writeError(c, fiber.StatusInternalServerError, dto.CodeInternal, "internal error")
	}
}

func writeError(c *fiber.Ctx, status int, code, message string) error {
	reqID, _ := c.Locals(middleware.CtxRequestID).(string)
	return c.Status(status).JSON(dto.ErrorResponse{
		Error:     code,
		Message:   message,
		RequestID: reqID,
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return writeError(c, fiber.StatusBadRequest, dto.CodeInvalidRequest, message)
}
