package model

// WebSocket message types
const (
	WSMessageTypeStatus = "status"
	WSMessageTypeError  = "error"
	WSMessageTypePing   = "ping"
	WSMessageTypePong   = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSStatusMessage carries the latest record of a job
type WSStatusMessage struct {
	Type   string            `json:"type"`
	JobID  string            `json:"jobId"`
	Record JobStatusResponse `json:"record"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusChannel is the pub/sub channel carrying a job's record updates
func StatusChannel(jobID string) string {
	return "job-status:" + jobID
}
