package clipvault

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/google/uuid"
)

// Error types
var (
	// ErrUnauthorized indicates the caller lacks entitlement to the resource
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidRequest indicates a malformed request or missing fields
	ErrInvalidRequest = errors.New("invalid request")

	// ErrVideoNotFound indicates a video was not found
	ErrVideoNotFound = errors.New("video not found")

	// ErrSessionNotFound indicates an upload session was not found
	ErrSessionNotFound = errors.New("upload session not found")

	// ErrLinkNotFound indicates a share link was not found
	ErrLinkNotFound = errors.New("share link not found")

	// ErrLinkGone indicates a share link is expired or revoked
	ErrLinkGone = errors.New("share link gone")

	// ErrThumbnailNotFound indicates a thumbnail was not found
	ErrThumbnailNotFound = errors.New("thumbnail not found")

	// ErrInvalidStatus indicates an illegal video status transition
	ErrInvalidStatus = errors.New("invalid video status transition")

	// ErrTransient indicates a retryable network/storage failure
	ErrTransient = errors.New("transient failure")

	// ErrUnprocessableMedia indicates structurally invalid media; retries
	// cannot fix this class of error
	ErrUnprocessableMedia = errors.New("unprocessable media")

	// ErrRetryExhausted indicates the retry budget was consumed
	ErrRetryExhausted = errors.New("retry budget exhausted")
)

// VideoError represents an error related to a video operation
type VideoError struct {
	VideoID uuid.UUID
	Op      string
	Err     error
}

func (e *VideoError) Error() string {
	return fmt.Sprintf("video operation %s failed for video %s: %v", e.Op, e.VideoID, e.Err)
}

func (e *VideoError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to a blob store operation
type StorageError struct {
	Key string
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// JobError represents an error while processing a queued job
type JobError struct {
	VideoID uuid.UUID
	Step    string
	Err     error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("processing step %s failed for video %s: %v", e.Step, e.VideoID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Transient wraps err so IsTransient recognizes it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err is retryable: an explicit ErrTransient,
// a network error, or a 5xx storage/API response. Context cancellation is
// never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() >= 500
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorFault() == smithy.FaultServer
	}
	return false
}

// IsFatalMedia reports whether err is a non-retryable media error.
func IsFatalMedia(err error) bool {
	return errors.Is(err, ErrUnprocessableMedia)
}
