package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voxoff/pipeline/internal/config"
	"github.com/voxoff/pipeline/internal/model"
	"github.com/voxoff/pipeline/internal/testsupport"
)

var testQueues = config.QueueConfig{
	Acquisition:  "download-jobs",
	Separation:   "split-jobs",
	Alignment:    "lyrics-jobs",
	StatusEvents: "event-notifications",
}

func TestSubmitPublishesEventThenMessage(t *testing.T) {
	b := testsupport.NewBus()
	svc := NewSubmissionService(b, newStore(t), testQueues, zap.NewNop())

	job, err := svc.Submit(context.Background(), &model.SubmitJobRequest{SongID: "s1", Title: "Hello", Artist: "Adele"})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)

	events := b.Events(t, testQueues.StatusEvents)
	require.Len(t, events, 1)
	assert.Equal(t, model.SourceSubmission, events[0].Source)
	assert.Equal(t, job.ID, events[0].JobID)
	assert.Equal(t, "s1", events[0].SongID)
	assert.Empty(t, events[0].Status)

	msgs := b.StageMessages(t, testQueues.Acquisition)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.StageMessage{JobID: job.ID, SongID: "s1", Title: "Hello", Artist: "Adele"}, msgs[0])
}

func TestSubmitReportsEnqueueFailure(t *testing.T) {
	b := testsupport.NewBus()
	b.FailQueues[testQueues.Acquisition] = errors.New("broker down")
	svc := NewSubmissionService(b, newStore(t), testQueues, zap.NewNop())

	_, err := svc.Submit(context.Background(), &model.SubmitJobRequest{SongID: "s1", Title: "Hello", Artist: "Adele"})
	require.Error(t, err)

	events := b.Events(t, testQueues.StatusEvents)
	require.Len(t, events, 2)
	assert.Equal(t, model.SourceAcquisition, events[1].Source)
	assert.Equal(t, model.EventFailed, events[1].Status)
}

func TestRecordAccessPublishesHistoryEvent(t *testing.T) {
	b := testsupport.NewBus()
	svc := NewSubmissionService(b, newStore(t), testQueues, zap.NewNop())

	require.NoError(t, svc.RecordAccess(context.Background(), "a@example.com", "s9"))
	events := b.Events(t, testQueues.StatusEvents)
	require.Len(t, events, 1)
	assert.Equal(t, model.SourceHistory, events[0].Source)
	assert.Equal(t, "a@example.com", events[0].UserEmail)
	assert.Equal(t, "s9", events[0].SongID)
}

func TestStatusUnknownJob(t *testing.T) {
	svc := NewSubmissionService(testsupport.NewBus(), newStore(t), testQueues, zap.NewNop())
	_, err := svc.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
