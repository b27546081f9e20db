package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxoff/pipeline/internal/bus"
	"github.com/voxoff/pipeline/internal/config"
	"github.com/voxoff/pipeline/internal/logging"
	"github.com/voxoff/pipeline/internal/model"
)

// SubmissionService is the entry point of the pipeline: it mints jobs,
// records song access and serves status reads.
type SubmissionService struct {
	publisher bus.Publisher
	store     JobStore
	queues    config.QueueConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewSubmissionService(publisher bus.Publisher, store JobStore, queues config.QueueConfig, logger *zap.Logger) *SubmissionService {
	return &SubmissionService{
		publisher: publisher,
		store:     store,
		queues:    queues,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit creates a job and places it on the acquisition queue. The
// submission event goes out first so the record exists before any stage
// reports.
func (s *SubmissionService) Submit(ctx context.Context, req *model.SubmitJobRequest) (*model.Job, error) {
	job := &model.Job{
		ID:        uuid.New().String(),
		SongID:    req.SongID,
		Title:     req.Title,
		Artist:    req.Artist,
		CreatedAt: s.now(),
	}
	logger := s.logger.With(logging.Job(job.ID, job.SongID)...)

	if err := bus.PublishJSON(ctx, s.publisher, s.queues.StatusEvents, model.NewSubmissionEvent(job)); err != nil {
		return nil, fmt.Errorf("failed to record submission: %w", err)
	}

	if err := bus.PublishJSON(ctx, s.publisher, s.queues.Acquisition, job.Message()); err != nil {
		// The record already exists; mark the first stage failed so the job
		// does not sit in progress forever.
		failed := model.NewStageEvent(model.StageAcquisition, model.EventFailed, job.ID, job.SongID,
			fmt.Sprintf("failed to enqueue job %s for acquisition", job.ID))
		if ferr := bus.PublishJSON(ctx, s.publisher, s.queues.StatusEvents, failed); ferr != nil {
			logger.Error("Failed to report enqueue failure", zap.Error(ferr))
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	logger.Info("Job submitted", zap.String("title", job.Title), zap.String("artist", job.Artist))
	return job, nil
}

// Status returns the job's record; the aggregate is derived by the caller.
func (s *SubmissionService) Status(ctx context.Context, jobID string) (*model.JobStatusRecord, error) {
	return s.store.Get(ctx, jobID)
}

// RecordAccess emits a history event for the tracker to store.
func (s *SubmissionService) RecordAccess(ctx context.Context, userEmail, songID string) error {
	if err := bus.PublishJSON(ctx, s.publisher, s.queues.StatusEvents, model.NewHistoryEvent(userEmail, songID)); err != nil {
		return fmt.Errorf("failed to record access: %w", err)
	}
	return nil
}

// SongsAccessed lists the songs a user has accessed.
func (s *SubmissionService) SongsAccessed(ctx context.Context, userEmail string) ([]string, error) {
	return s.store.SongsAccessed(ctx, userEmail)
}
