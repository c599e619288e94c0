package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jordancrombie/wsim-sub002/internal/http/dto"
	"github.com/jordancrombie/wsim-sub002/internal/middleware"
	"github.com/jordancrombie/wsim-sub002/internal/providers"
	"github.com/jordancrombie/wsim-sub002/internal/services"
	"go.uber.org/zap"
)

type EnrollmentHandler struct {
	enrollmentService *services.EnrollmentService
	registry          *providers.Registry
	log               *zap.Logger
}

func NewEnrollmentHandler(enrollmentService *services.EnrollmentService, registry *providers.Registry, log *zap.Logger) *EnrollmentHandler {
	return &EnrollmentHandler{enrollmentService: enrollmentService, registry: registry, log: log}
}

// ListProviders returns the configured banks as a public projection; secrets
// and issuer details stay server-side.
func (h *EnrollmentHandler) ListProviders(c *fiber.Ctx) error {
	list := h.registry.List()
	out := make([]dto.ProviderResponse, 0, len(list))
	for _, p := range list {
		out = append(out, dto.ProviderResponse{ID: p.ID, Name: p.Name})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: out})
}

func (h *EnrollmentHandler) Start(c *fiber.Ctx) error {
	bsimID := c.Params("bsimId")

	var req dto.StartEnrollmentRequest
	_ = c.BodyParser(&req)

	opts := services.StartOptions{
		Password: req.Password,
		Channel:  req.Channel,
	}
	// An authenticated mobile caller starts enrollment against their own
	// account; web enrollment resolves the user at callback time by email.
	if userID := middleware.GetUserID(c); userID != uuid.Nil {
		opts.PrincipalID = &userID
		if opts.Channel == "" {
			opts.Channel = services.ChannelMobile
		}
	}

	authURL, err := h.enrollmentService.Start(c.Context(), bsimID, opts)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.StartEnrollmentResponse{AuthorizationURL: authURL}})
}

// Callback is the bank's redirect target. It always answers with a redirect;
// failures are encoded in the target's query string.
func (h *EnrollmentHandler) Callback(c *fiber.Ctx) error {
	redirect := h.enrollmentService.Callback(c.Context(), c.Params("bsimId"), services.CallbackParams{
		Code:             c.Query("code"),
		State:            c.Query("state"),
		ErrorParam:       c.Query("error"),
		ErrorDescription: c.Query("error_description"),
	})
	return c.Redirect(redirect, fiber.StatusFound)
}

func (h *EnrollmentHandler) List(c *fiber.Ctx) error {
	enrollments, err := h.enrollmentService.ListEnrollments(c.Context(), middleware.GetUserID(c))
	if err != nil {
		h.log.Error("list enrollments failed", zap.Error(err))
		return serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: enrollments})
}

func (h *EnrollmentHandler) Remove(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid enrollment id")
	}
	if err := h.enrollmentService.RemoveEnrollment(c.Context(), middleware.GetUserID(c), id); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}
