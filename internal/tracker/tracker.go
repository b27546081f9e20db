// Package tracker consumes the status-event queue and owns every write to
// the job status records.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voxoff/pipeline/internal/bus"
	"github.com/voxoff/pipeline/internal/logging"
	"github.com/voxoff/pipeline/internal/model"
	"github.com/voxoff/pipeline/internal/service"
)

// Notifier fans an updated record out to live subscribers.
type Notifier interface {
	Notify(ctx context.Context, record *model.JobStatusRecord) error
}

// RedisNotifier publishes records on the job's pub/sub channel.
type RedisNotifier struct {
	rdb redis.UniversalClient
}

func NewRedisNotifier(rdb redis.UniversalClient) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

func (n *RedisNotifier) Notify(ctx context.Context, record *model.JobStatusRecord) error {
	msg := model.WSStatusMessage{
		Type:   model.WSMessageTypeStatus,
		JobID:  record.JobID,
		Record: model.NewJobStatusResponse(record),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, model.StatusChannel(record.JobID), body).Err()
}

// Tracker applies status events to the Job Record Store.
type Tracker struct {
	store    service.JobStore
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a tracker. notifier may be nil.
func New(store service.JobStore, notifier Notifier, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes one status event. Malformed events and store failures
// are rejected without requeue; everything else is acknowledged.
func (t *Tracker) Handle(ctx context.Context, body []byte) bus.Outcome {
	event, err := model.DecodeStatusEvent(body)
	if err != nil {
		t.logger.Warn("Malformed status event", zap.ByteString("body", body), zap.Error(err))
		return bus.Nack
	}

	logger := t.logger.With(append(logging.Job(event.JobID, event.SongID),
		zap.String("source", string(event.Source)))...)

	if err := t.apply(ctx, event, logger); err != nil {
		logger.Error("Failed to apply status event", zap.Error(err))
		return bus.Nack
	}
	return bus.Ack
}

func (t *Tracker) apply(ctx context.Context, event *model.StatusEvent, logger *zap.Logger) error {
	switch event.Source {
	case model.SourceSubmission:
		created, err := t.store.CreateIfAbsent(ctx, event.JobID, event.SongID, event.Timestamp)
		if err != nil {
			return err
		}
		if !created {
			logger.Debug("Record already exists")
			return nil
		}
		logger.Info("Job record created")
		if t.notifier != nil {
			record, err := t.store.Get(ctx, event.JobID)
			if err != nil {
				logger.Warn("Failed to read record for fan-out", zap.Error(err))
				return nil
			}
			t.notify(ctx, record, logger)
		}
		return nil

	case model.SourceHistory:
		if err := t.store.AddSongAccess(ctx, event.UserEmail, event.SongID); err != nil {
			return err
		}
		logger.Info("Song access recorded")
		return nil
	}

	stage, ok := event.Source.Stage()
	if !ok {
		return fmt.Errorf("%w: %q", model.ErrUnknownSource, event.Source)
	}
	status, err := event.Status.StageStatus()
	if err != nil {
		return err
	}

	// The submission event may have been lost; create the record lazily.
	created, err := t.store.CreateIfAbsent(ctx, event.JobID, event.SongID, event.Timestamp)
	if err != nil {
		return err
	}
	if created {
		logger.Warn("Record created from stage event")
	}

	lastError := event.ErrorMessage
	if status == model.StatusFailed && lastError == "" {
		lastError = fmt.Sprintf("%s failed", stage)
	}

	record, transition, err := t.store.UpdateStage(ctx, event.JobID, stage, status, lastError, t.now())
	if err != nil {
		return err
	}

	logger = logger.With(logging.Stage(stage), zap.String("status", string(status)))
	switch transition {
	case model.TransitionApply:
		logger.Info("Stage status updated", zap.String("aggregate", string(record.Aggregate())))
		t.notify(ctx, record, logger)
	case model.TransitionDuplicate:
		logger.Debug("Duplicate status event ignored")
	case model.TransitionRejected:
		logger.Warn("Backward status transition ignored",
			zap.String("current", string(record.StageStatus(stage))),
			zap.String("aggregate", string(record.Aggregate())))
	}
	return nil
}

// notify fans the record out. Failures are only logged: the store write
// already succeeded.
func (t *Tracker) notify(ctx context.Context, record *model.JobStatusRecord, logger *zap.Logger) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Notify(ctx, record); err != nil {
		logger.Warn("Failed to fan out status", zap.Error(err))
	}
}
