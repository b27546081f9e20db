package model

import "time"

// SubmitJobRequest represents the request body for submitting a karaoke job
type SubmitJobRequest struct {
	SongID string `json:"songId" validate:"required,min=1,max=128"`
	Title  string `json:"title" validate:"required,min=1,max=256"`
	Artist string `json:"artist" validate:"required,min=1,max=256"`
}

// SubmitJobResponse represents the response for job submission
type SubmitJobResponse struct {
	JobID     string          `json:"jobId"`
	SongID    string          `json:"songId"`
	Status    AggregateStatus `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

// JobStatusResponse represents a job status record as served by the API
type JobStatusResponse struct {
	*JobStatusRecord
	Status AggregateStatus `json:"status"`
}

// NewJobStatusResponse attaches the derived aggregate to a record
func NewJobStatusResponse(r *JobStatusRecord) JobStatusResponse {
	return JobStatusResponse{JobStatusRecord: r, Status: r.Aggregate()}
}

// HistoryRequest represents the request body for recording song access
type HistoryRequest struct {
	UserEmail string `json:"userEmail" validate:"required,email"`
	SongID    string `json:"songId" validate:"required,min=1,max=128"`
}

// HistoryResponse lists the songs a user has accessed
type HistoryResponse struct {
	UserEmail string   `json:"userEmail"`
	SongIDs   []string `json:"songIds"`
}
