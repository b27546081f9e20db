package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxoff/pipeline/internal/model"
)

// ErrJobNotFound is returned when no status record exists for a job.
var ErrJobNotFound = errors.New("job not found")

const (
	jobKeyPrefix     = "job:"
	historyKeyPrefix = "history:"

	fieldJobID         = "job_id"
	fieldSongID        = "song_id"
	fieldCreatedAt     = "created_at"
	fieldLastUpdatedAt = "last_updated_at"
	fieldLastError     = "last_error"

	// maxTxRetries bounds optimistic-lock retries on concurrent writers.
	maxTxRetries = 5
)

// JobStore is the Job Record Store: one status record per job plus the
// per-user history sets.
type JobStore interface {
	// CreateIfAbsent writes a fresh record unless one already exists.
	CreateIfAbsent(ctx context.Context, jobID, songID string, at time.Time) (bool, error)
	// Get returns the record or ErrJobNotFound.
	Get(ctx context.Context, jobID string) (*model.JobStatusRecord, error)
	// UpdateStage writes a single stage field when the write rules allow it
	// and returns the record as stored afterwards.
	UpdateStage(ctx context.Context, jobID string, stage model.Stage, status model.StageStatus, lastError string, at time.Time) (*model.JobStatusRecord, model.Transition, error)
	// AddSongAccess records that a user accessed a song.
	AddSongAccess(ctx context.Context, userEmail, songID string) error
	// SongsAccessed lists the songs a user accessed, sorted.
	SongsAccessed(ctx context.Context, userEmail string) ([]string, error)
}

// RedisJobStore keeps each record in a Redis hash so that stage updates
// touch only their own field.
type RedisJobStore struct {
	rdb redis.UniversalClient
}

func NewRedisJobStore(rdb redis.UniversalClient) *RedisJobStore {
	return &RedisJobStore{rdb: rdb}
}

func jobKey(jobID string) string {
	return jobKeyPrefix + jobID
}

func historyKey(userEmail string) string {
	return historyKeyPrefix + userEmail
}

// CreateIfAbsent sets every field with HSETNX inside one transaction, so an
// existing record is left untouched.
func (s *RedisJobStore) CreateIfAbsent(ctx context.Context, jobID, songID string, at time.Time) (bool, error) {
	if jobID == "" {
		return false, fmt.Errorf("jobID is required")
	}
	key := jobKey(jobID)
	ts := formatTime(at)

	var created *redis.BoolCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		created = p.HSetNX(ctx, key, fieldJobID, jobID)
		p.HSetNX(ctx, key, fieldSongID, songID)
		for _, stage := range model.Stages {
			p.HSetNX(ctx, key, stage.StatusField(), string(model.StatusInProgress))
		}
		p.HSetNX(ctx, key, fieldCreatedAt, ts)
		p.HSetNX(ctx, key, fieldLastUpdatedAt, ts)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("create job %s: %w", jobID, err)
	}
	return created.Val(), nil
}

// Get returns the stored record.
func (s *RedisJobStore) Get(ctx context.Context, jobID string) (*model.JobStatusRecord, error) {
	vals, err := s.rdb.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return decodeRecord(vals)
}

// UpdateStage reads the record under WATCH, checks the transition and
// writes the stage field together with last_updated_at and last_error.
func (s *RedisJobStore) UpdateStage(ctx context.Context, jobID string, stage model.Stage, status model.StageStatus, lastError string, at time.Time) (*model.JobStatusRecord, model.Transition, error) {
	field := stage.StatusField()
	if field == "" {
		return nil, model.TransitionRejected, fmt.Errorf("%w: %q", model.ErrUnknownStage, stage)
	}
	key := jobKey(jobID)

	var (
		record     *model.JobStatusRecord
		transition model.Transition
	)
	update := func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(vals) == 0 {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		record, err = decodeRecord(vals)
		if err != nil {
			return err
		}

		transition = record.Accepts(stage, status)
		if transition != model.TransitionApply {
			return nil
		}

		_ = record.SetStageStatus(stage, status)
		record.LastUpdatedAt = at
		if status == model.StatusFailed {
			msg := lastError
			record.LastError = &msg
		} else {
			record.LastError = nil
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, field, string(status), fieldLastUpdatedAt, formatTime(at))
			if record.LastError != nil {
				p.HSet(ctx, key, fieldLastError, *record.LastError)
			} else {
				p.HDel(ctx, key, fieldLastError)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, update, key)
		if err == nil {
			return record, transition, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, model.TransitionRejected, fmt.Errorf("update job %s %s: %w", jobID, stage, err)
	}
	return nil, model.TransitionRejected, fmt.Errorf("update job %s %s: %w", jobID, stage, redis.TxFailedErr)
}

// AddSongAccess adds the song to the user's history set.
func (s *RedisJobStore) AddSongAccess(ctx context.Context, userEmail, songID string) error {
	if err := s.rdb.SAdd(ctx, historyKey(userEmail), songID).Err(); err != nil {
		return fmt.Errorf("record access for %s: %w", userEmail, err)
	}
	return nil
}

// SongsAccessed returns the user's history set, sorted.
func (s *RedisJobStore) SongsAccessed(ctx context.Context, userEmail string) ([]string, error) {
	songs, err := s.rdb.SMembers(ctx, historyKey(userEmail)).Result()
	if err != nil {
		return nil, fmt.Errorf("read history for %s: %w", userEmail, err)
	}
	sort.Strings(songs)
	return songs, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeRecord(vals map[string]string) (*model.JobStatusRecord, error) {
	record := &model.JobStatusRecord{
		JobID:       vals[fieldJobID],
		SongID:      vals[fieldSongID],
		Acquisition: model.StageStatus(vals[model.StageAcquisition.StatusField()]),
		Separation:  model.StageStatus(vals[model.StageSeparation.StatusField()]),
		Alignment:   model.StageStatus(vals[model.StageAlignment.StatusField()]),
	}

	var err error
	if record.CreatedAt, err = parseTime(vals[fieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("decode %s: %w", fieldCreatedAt, err)
	}
	if record.LastUpdatedAt, err = parseTime(vals[fieldLastUpdatedAt]); err != nil {
		return nil, fmt.Errorf("decode %s: %w", fieldLastUpdatedAt, err)
	}
	if msg, ok := vals[fieldLastError]; ok {
		record.LastError = &msg
	}
	return record, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
