package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/jordancrombie/wsim-sub002/internal/http/dto"
	"github.com/jordancrombie/wsim-sub002/internal/middleware"
	"github.com/jordancrombie/wsim-sub002/internal/services"
	"go.uber.org/zap"
)

type SessionHandler struct {
	sessionService *services.SessionService
	log            *zap.Logger
}

func NewSessionHandler(sessionService *services.SessionService, log *zap.Logger) *SessionHandler {
	return &SessionHandler{sessionService: sessionService, log: log}
}

func deviceParams(req dto.DeviceRequest) services.DeviceParams {
	return services.DeviceParams{
		DeviceID:      req.DeviceID,
		Platform:      req.Platform,
		Name:          req.Name,
		PushToken:     req.PushToken,
		PushTokenType: req.PushTokenType,
	}
}

func (h *SessionHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	user, tokens, err := h.sessionService.Register(c.Context(), services.RegisterParams{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Device:    deviceParams(req.Device),
	})
	if err != nil {
		return serviceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.AuthResponse{User: user, Tokens: tokens}})
}

func (h *SessionHandler) PreRegisterDevice(c *fiber.Ctx) error {
	var req dto.DeviceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	device, err := h.sessionService.PreRegister(c.Context(), deviceParams(req))
	if err != nil {
		return serviceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.DeviceResponse{
		DeviceID:   device.DeviceID,
		Platform:   device.Platform,
		PushActive: device.PushActive,
		CreatedAt:  device.CreatedAt,
	}})
}

func (h *SessionHandler) StartLogin(c *fiber.Ctx) error {
	var req dto.StartLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	challengeID, err := h.sessionService.StartLogin(c.Context(), req.Email)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.StartLoginResponse{ChallengeID: challengeID}})
}

func (h *SessionHandler) VerifyLogin(c *fiber.Ctx) error {
	var req dto.VerifyLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	user, tokens, err := h.sessionService.VerifyLogin(c.Context(), services.VerifyLoginParams{
		ChallengeID: req.ChallengeID,
		Code:        req.Code,
		Device:      deviceParams(req.Device),
	})
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.AuthResponse{User: user, Tokens: tokens}})
}

func (h *SessionHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
		return badRequest(c, "refreshToken is required")
	}
	tokens, err := h.sessionService.Refresh(c.Context(), req.RefreshToken)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: tokens})
}

func (h *SessionHandler) Logout(c *fiber.Ctx) error {
	var req dto.LogoutRequest
	_ = c.BodyParser(&req)

	err := h.sessionService.Logout(c.Context(), middleware.GetUserID(c), middleware.GetDeviceID(c), req.AllDevices)
	if err != nil {
		h.log.Error("logout failed", zap.Error(err))
		return serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *SessionHandler) Me(c *fiber.Ctx) error {
	user, err := h.sessionService.Me(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: user})
}
