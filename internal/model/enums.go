package model

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownStage is returned when a value does not name a pipeline stage.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrUnknownSource is returned when a status event names an unknown source.
	ErrUnknownSource = errors.New("unknown source")
	// ErrMalformed marks a message that cannot be parsed or lacks required fields.
	ErrMalformed = errors.New("malformed message")
)

// Stage identifies one pipeline phase.
type Stage string

const (
	StageAcquisition Stage = "acquisition"
	StageSeparation  Stage = "separation"
	StageAlignment   Stage = "alignment"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageAcquisition, StageSeparation, StageAlignment}

// ParseStage maps a string onto a Stage.
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageAcquisition, StageSeparation, StageAlignment:
		return Stage(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStage, s)
}

// StatusField is the Job Status Record field owned by the stage.
func (s Stage) StatusField() string {
	switch s {
	case StageAcquisition:
		return "acquisition_status"
	case StageSeparation:
		return "separation_status"
	case StageAlignment:
		return "alignment_status"
	}
	return ""
}

// Source identifies who emitted a status event.
type Source string

const (
	SourceSubmission  Source = "submission"
	SourceAcquisition Source = Source(StageAcquisition)
	SourceSeparation  Source = Source(StageSeparation)
	SourceAlignment   Source = Source(StageAlignment)
	SourceHistory     Source = "history"
)

// ParseSource maps a string onto a Source.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceSubmission, SourceAcquisition, SourceSeparation, SourceAlignment, SourceHistory:
		return Source(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSource, s)
}

// Stage returns the stage a source reports for, if any.
func (s Source) Stage() (Stage, bool) {
	switch s {
	case SourceAcquisition:
		return StageAcquisition, true
	case SourceSeparation:
		return StageSeparation, true
	case SourceAlignment:
		return StageAlignment, true
	}
	return "", false
}

// EventStatus is the outcome carried by a stage status event.
type EventStatus string

const (
	EventCompleted EventStatus = "Completed"
	EventFailed    EventStatus = "Failed"
)

// StageStatus converts the wire outcome to the stored field value.
func (s EventStatus) StageStatus() (StageStatus, error) {
	switch s {
	case EventCompleted:
		return StatusCompleted, nil
	case EventFailed:
		return StatusFailed, nil
	}
	return "", fmt.Errorf("%w: invalid status %q", ErrMalformed, s)
}

// StageStatus is the per-stage field value of a Job Status Record.
type StageStatus string

const (
	StatusInProgress StageStatus = "in_progress"
	StatusCompleted  StageStatus = "completed"
	StatusFailed     StageStatus = "failed"
)

// AggregateStatus is the derived overall job state.
type AggregateStatus string

const (
	AggregateInProgress AggregateStatus = "in_progress"
	AggregateComplete   AggregateStatus = "complete"
	AggregateFailed     AggregateStatus = "failed"
)
