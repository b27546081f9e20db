package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Job is one end-to-end request to process a song. Immutable once created.
type Job struct {
	ID        string    `json:"jobId"`
	SongID    string    `json:"songId"`
	Title     string    `json:"title"`
	Artist    string    `json:"artist"`
	CreatedAt time.Time `json:"createdAt"`
}

// StageMessage is the unit carried on a pipeline queue. Payloads never travel
// with it; they move through the artifact store.
type StageMessage struct {
	JobID  string `json:"job_id"`
	SongID string `json:"song_id"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

// Message builds the first-hop stage message for the job.
func (j *Job) Message() StageMessage {
	return StageMessage{
		JobID:  j.ID,
		SongID: j.SongID,
		Title:  j.Title,
		Artist: j.Artist,
	}
}

// DecodeStageMessage parses a queue body. A partially decoded message is
// returned alongside the error so callers can still report what they know.
func DecodeStageMessage(body []byte) (*StageMessage, error) {
	var msg StageMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return &StageMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var missing []string
	if msg.JobID == "" {
		missing = append(missing, "job_id")
	}
	if msg.SongID == "" {
		missing = append(missing, "song_id")
	}
	if msg.Title == "" {
		missing = append(missing, "title")
	}
	if msg.Artist == "" {
		missing = append(missing, "artist")
	}
	if len(missing) > 0 {
		return &msg, fmt.Errorf("%w: missing %s", ErrMalformed, strings.Join(missing, ", "))
	}
	return &msg, nil
}

// JobStatusRecord is the per-job document owned by the status tracker.
type JobStatusRecord struct {
	JobID         string      `json:"jobId"`
	SongID        string      `json:"songId"`
	Acquisition   StageStatus `json:"acquisitionStatus"`
	Separation    StageStatus `json:"separationStatus"`
	Alignment     StageStatus `json:"alignmentStatus"`
	CreatedAt     time.Time   `json:"createdAt"`
	LastUpdatedAt time.Time   `json:"lastUpdatedAt"`
	LastError     *string     `json:"lastError,omitempty"`
}

// NewJobStatusRecord returns a record with every stage in progress.
func NewJobStatusRecord(jobID, songID string, at time.Time) *JobStatusRecord {
	return &JobStatusRecord{
		JobID:         jobID,
		SongID:        songID,
		Acquisition:   StatusInProgress,
		Separation:    StatusInProgress,
		Alignment:     StatusInProgress,
		CreatedAt:     at,
		LastUpdatedAt: at,
	}
}

// StageStatus returns the field for the given stage.
func (r *JobStatusRecord) StageStatus(s Stage) StageStatus {
	switch s {
	case StageAcquisition:
		return r.Acquisition
	case StageSeparation:
		return r.Separation
	case StageAlignment:
		return r.Alignment
	}
	return ""
}

// SetStageStatus updates the field for the given stage.
func (r *JobStatusRecord) SetStageStatus(s Stage, status StageStatus) error {
	switch s {
	case StageAcquisition:
		r.Acquisition = status
	case StageSeparation:
		r.Separation = status
	case StageAlignment:
		r.Alignment = status
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStage, s)
	}
	return nil
}

// Aggregate derives the overall status. It is computed on read, never stored.
func (r *JobStatusRecord) Aggregate() AggregateStatus {
	return AggregateOf(r.Acquisition, r.Separation, r.Alignment)
}

// AggregateOf is failed if any stage failed, complete if all completed,
// and in progress otherwise.
func AggregateOf(statuses ...StageStatus) AggregateStatus {
	complete := true
	for _, s := range statuses {
		if s == StatusFailed {
			return AggregateFailed
		}
		if s != StatusCompleted {
			complete = false
		}
	}
	if complete {
		return AggregateComplete
	}
	return AggregateInProgress
}

// Transition describes how a stage update relates to the stored record.
type Transition int

const (
	// TransitionApply means the update must be written.
	TransitionApply Transition = iota
	// TransitionDuplicate means the field already holds the value.
	TransitionDuplicate
	// TransitionRejected means the update would move the job backwards.
	TransitionRejected
)

func (t Transition) String() string {
	switch t {
	case TransitionApply:
		return "apply"
	case TransitionDuplicate:
		return "duplicate"
	case TransitionRejected:
		return "rejected"
	}
	return "unknown"
}

// Accepts decides whether setting stage to next keeps the aggregate moving
// forward. Failed is final; completed may only turn into failed while the
// job as a whole is not yet complete.
func (r *JobStatusRecord) Accepts(stage Stage, next StageStatus) Transition {
	current := r.StageStatus(stage)
	switch {
	case current == next:
		return TransitionDuplicate
	case current == StatusInProgress || current == "":
		return TransitionApply
	case current == StatusFailed:
		return TransitionRejected
	case current == StatusCompleted && next == StatusFailed && r.Aggregate() != AggregateComplete:
		return TransitionApply
	}
	return TransitionRejected
}
