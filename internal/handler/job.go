package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/voxoff/pipeline/internal/model"
	"github.com/voxoff/pipeline/internal/service"
	"github.com/voxoff/pipeline/pkg/response"
)

type JobHandler struct {
	service   *service.SubmissionService
	validator *validator.Validate
	logger    *zap.Logger
}

func NewJobHandler(svc *service.SubmissionService, v *validator.Validate, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
		logger:    logger,
	}
}

// Submit handles POST /api/jobs
func (h *JobHandler) Submit(c *fiber.Ctx) error {
	var req model.SubmitJobRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	job, err := h.service.Submit(c.UserContext(), &req)
	if err != nil {
		h.logger.Error("Failed to submit job", zap.String("song_id", req.SongID), zap.Error(err))
		return response.Unavailable(c, "Failed to submit job")
	}

	return response.Accepted(c, model.SubmitJobResponse{
		JobID:     job.ID,
		SongID:    job.SongID,
		Status:    model.AggregateInProgress,
		CreatedAt: job.CreatedAt,
	})
}

// Status handles GET /api/jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID required", nil)
	}

	record, err := h.service.Status(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		h.logger.Error("Failed to read job status", zap.String("job_id", jobID), zap.Error(err))
		return response.ServiceError(c, "Failed to read job status")
	}

	return response.OK(c, model.NewJobStatusResponse(record))
}
