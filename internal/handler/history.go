package handler

import (
	"net/url"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/voxoff/pipeline/internal/model"
	"github.com/voxoff/pipeline/internal/service"
	"github.com/voxoff/pipeline/pkg/response"
)

type HistoryHandler struct {
	service   *service.SubmissionService
	validator *validator.Validate
	logger    *zap.Logger
}

func NewHistoryHandler(svc *service.SubmissionService, v *validator.Validate, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{
		service:   svc,
		validator: v,
		logger:    logger,
	}
}

// Record handles POST /api/history
func (h *HistoryHandler) Record(c *fiber.Ctx) error {
	var req model.HistoryRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := h.service.RecordAccess(c.UserContext(), req.UserEmail, req.SongID); err != nil {
		h.logger.Error("Failed to record song access", zap.String("song_id", req.SongID), zap.Error(err))
		return response.Unavailable(c, "Failed to record song access")
	}

	return response.Accepted(c, fiber.Map{"accepted": true})
}

// List handles GET /api/history/:userEmail
func (h *HistoryHandler) List(c *fiber.Ctx) error {
	email, err := url.PathUnescape(c.Params("userEmail"))
	if err != nil || h.validator.Var(email, "required,email") != nil {
		return response.ValidationError(c, "Valid user email required", nil)
	}

	songs, err := h.service.SongsAccessed(c.UserContext(), email)
	if err != nil {
		h.logger.Error("Failed to read history", zap.Error(err))
		return response.ServiceError(c, "Failed to read history")
	}
	if songs == nil {
		songs = []string{}
	}

	return response.OK(c, model.HistoryResponse{UserEmail: email, SongIDs: songs})
}
