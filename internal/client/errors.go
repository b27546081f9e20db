package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for external collaborators.
var (
	// ErrNotFound indicates the requested artifact does not exist.
	ErrNotFound = errors.New("artifact not found")

	// ErrLyricsNotFound indicates a lyrics source has no lyrics for the song.
	ErrLyricsNotFound = errors.New("lyrics not found")

	// ErrAccessDenied indicates the store refused the credentials or key.
	ErrAccessDenied = errors.New("access denied")

	// ErrThrottled indicates the remote side rate limited the request.
	ErrThrottled = errors.New("request throttled")

	// ErrUnavailable indicates the remote service is temporarily unavailable.
	ErrUnavailable = errors.New("service unavailable")
)

// ArtifactError wraps artifact store errors with context.
type ArtifactError struct {
	// Op is the operation that failed (e.g., "Head", "Put").
	Op string

	// Bucket is the bucket name.
	Bucket string

	// Key is the object key.
	Key string

	// Err is the underlying error.
	Err error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("artifact store %s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *ArtifactError) Unwrap() error {
	return e.Err
}

// StatusError reports a non-success HTTP response from an external service.
type StatusError struct {
	Service    string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s error (status %d): %s", e.Service, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s error (status %d) for %s", e.Service, e.StatusCode, e.URL)
}

// Transient reports whether retrying the same request may succeed.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTransient classifies errors that are worth retrying: network failures,
// throttling and server-side errors. Cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrThrottled) || errors.Is(err, ErrUnavailable) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
