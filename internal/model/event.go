package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// StatusEvent is the unit carried on the status-event queue.
type StatusEvent struct {
	JobID        string      `json:"job_id,omitempty"`
	SongID       string      `json:"song_id,omitempty"`
	Source       Source      `json:"source"`
	Status       EventStatus `json:"status,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
	ErrorMessage string      `json:"error_message,omitempty"`
	UserEmail    string      `json:"user_email,omitempty"`
}

// NewStageEvent builds the outcome event a stage worker publishes.
func NewStageEvent(stage Stage, status EventStatus, jobID, songID, errMsg string) StatusEvent {
	return StatusEvent{
		JobID:        jobID,
		SongID:       songID,
		Source:       Source(stage),
		Status:       status,
		Timestamp:    time.Now().UTC(),
		ErrorMessage: errMsg,
	}
}

// NewSubmissionEvent builds the record-creating event for a new job.
func NewSubmissionEvent(job *Job) StatusEvent {
	return StatusEvent{
		JobID:     job.ID,
		SongID:    job.SongID,
		Source:    SourceSubmission,
		Timestamp: job.CreatedAt,
	}
}

// NewHistoryEvent records that a user listened to or downloaded a song.
func NewHistoryEvent(userEmail, songID string) StatusEvent {
	return StatusEvent{
		SongID:    songID,
		Source:    SourceHistory,
		Timestamp: time.Now().UTC(),
		UserEmail: userEmail,
	}
}

// DecodeStatusEvent parses and validates a status-event body.
func DecodeStatusEvent(body []byte) (*StatusEvent, error) {
	var raw struct {
		StatusEvent
		Source string `json:"source"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Source == "" {
		return nil, fmt.Errorf("%w: missing source", ErrMalformed)
	}
	source, err := ParseSource(raw.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	event := raw.StatusEvent
	event.Source = source
	if err := event.Validate(); err != nil {
		return nil, err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return &event, nil
}

// Validate checks that the fields required by the event's source are set.
func (e *StatusEvent) Validate() error {
	switch e.Source {
	case SourceSubmission:
		if e.JobID == "" || e.SongID == "" {
			return fmt.Errorf("%w: submission event requires job_id and song_id", ErrMalformed)
		}
	case SourceAcquisition, SourceSeparation, SourceAlignment:
		if e.JobID == "" {
			return fmt.Errorf("%w: %s event requires job_id", ErrMalformed, e.Source)
		}
		if _, err := e.Status.StageStatus(); err != nil {
			return err
		}
	case SourceHistory:
		if e.UserEmail == "" || e.SongID == "" {
			return fmt.Errorf("%w: history event requires user_email and song_id", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: %w: %q", ErrMalformed, ErrUnknownSource, e.Source)
	}
	return nil
}
