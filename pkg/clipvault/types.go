package clipvault

import (
	"time"

	"github.com/google/uuid"
)

// VideoStatus is the domain type for video lifecycle states.
type VideoStatus string

// Video status constants (typed). Transitions are monotonic along the
// pipeline: uploading -> uploaded -> processing -> ready, with failed
// reachable from any non-terminal state.
const (
	VideoStatusUploading  VideoStatus = "uploading"
	VideoStatusUploaded   VideoStatus = "uploaded"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusReady      VideoStatus = "ready"
	VideoStatusFailed     VideoStatus = "failed"
)

// CanTransition reports whether moving from one status to another is a legal
// step of the pipeline. Terminal states never transition out.
func (s VideoStatus) CanTransition(to VideoStatus) bool {
	if s == VideoStatusReady || s == VideoStatusFailed {
		return false
	}
	if to == VideoStatusFailed {
		return true
	}
	switch s {
	case VideoStatusUploading:
		return to == VideoStatusUploaded
	case VideoStatusUploaded:
		return to == VideoStatusProcessing
	case VideoStatusProcessing:
		return to == VideoStatusReady || to == VideoStatusProcessing
	}
	return false
}

// ShareVisibility controls who may resolve a share link.
type ShareVisibility string

const (
	ShareVisibilityPublic  ShareVisibility = "public"
	ShareVisibilityPrivate ShareVisibility = "private"
)

// Video represents one uploaded asset.
type Video struct {
	ID              uuid.UUID   `json:"id"`
	OwnerID         uuid.UUID   `json:"owner_id"`
	StorageKey      string      `json:"storage_key"`
	FileName        string      `json:"file_name"`
	MimeType        string      `json:"mime_type"`
	SizeBytes       int64       `json:"size_bytes"`
	DurationSeconds *float64    `json:"duration_seconds,omitempty"`
	Status          VideoStatus `json:"status"`
	FailureReason   string      `json:"failure_reason,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	ReadyAt         *time.Time  `json:"ready_at,omitempty"`
}

// PartSize is the fixed chunk size for multipart transfers (5 MiB, the S3
// minimum part size). Clients and the coordinator both derive a file's part
// count from it.
const PartSize int64 = 5 << 20

// PartCount returns how many fixed-size parts a file of the given size
// splits into.
func PartCount(sizeBytes, partSize int64) int {
	if sizeBytes <= 0 || partSize <= 0 {
		return 0
	}
	n := sizeBytes / partSize
	if sizeBytes%partSize != 0 {
		n++
	}
	return int(n)
}

// CompletedPart records a successfully transferred part of a multipart upload.
type CompletedPart struct {
	PartNumber int32  `json:"part_number"`
	ETag       string `json:"etag"`
}

// UploadSession tracks an in-flight multipart upload. It is ephemeral: created
// by StartUpload, mutated as parts land, and destroyed on complete or abort.
// The part registry grows monotonically and never shrinks except on abort.
type UploadSession struct {
	UploadID   string          `json:"upload_id"`
	StorageKey string          `json:"storage_key"`
	VideoID    uuid.UUID       `json:"video_id"`
	OwnerID    uuid.UUID       `json:"owner_id"`
	Parts      []CompletedPart `json:"parts"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

// Thumbnail is one extracted frame of a processed video. Rows are keyed by
// (VideoID, PositionIndex) so a redelivered job overwrites instead of
// duplicating.
type Thumbnail struct {
	ID              uuid.UUID `json:"id"`
	VideoID         uuid.UUID `json:"video_id"`
	StorageKey      string    `json:"storage_key"`
	PositionIndex   int       `json:"position_index"`
	PositionSeconds float64   `json:"position_seconds"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	CreatedAt       time.Time `json:"created_at"`
}

// ProcessingJob is the queue message posted after an upload completes.
type ProcessingJob struct {
	VideoID    uuid.UUID `json:"video_id"`
	StorageKey string    `json:"storage_key"`
}

// JobMessage is a claimed queue delivery. ReceiptHandle identifies the
// delivery for Ack/Reject; Attempt is the broker's receive count, starting
// at 1.
type JobMessage struct {
	Job           ProcessingJob
	ReceiptHandle string
	Attempt       int
}

// ShareLink grants time and scope limited access to a video without full
// authentication. Links are revoked, never physically deleted.
type ShareLink struct {
	ID            uuid.UUID       `json:"id"`
	VideoID       uuid.UUID       `json:"video_id"`
	OwnerID       uuid.UUID       `json:"owner_id"`
	Token         string          `json:"token"`
	Visibility    ShareVisibility `json:"visibility"`
	AllowedEmails []string        `json:"allowed_emails,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	Revoked       bool            `json:"revoked"`
	LastViewedAt  *time.Time      `json:"last_viewed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Expired reports whether the link's expiry has passed. Links with a nil
// expiry never expire.
func (l *ShareLink) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// ExpiryPreset is a user-facing expiry choice for share links.
type ExpiryPreset string

const (
	ExpiryPreset1Hour   ExpiryPreset = "1h"
	ExpiryPreset12Hours ExpiryPreset = "12h"
	ExpiryPreset1Day    ExpiryPreset = "1d"
	ExpiryPreset30Days  ExpiryPreset = "30d"
	ExpiryPresetForever ExpiryPreset = "forever"
)

// ExpiryFromPreset computes an absolute expiry from a preset. The "forever"
// preset yields nil, meaning the link never expires.
func ExpiryFromPreset(preset ExpiryPreset, now time.Time) (*time.Time, error) {
	var d time.Duration
	switch preset {
	case ExpiryPreset1Hour:
		d = time.Hour
	case ExpiryPreset12Hours:
		d = 12 * time.Hour
	case ExpiryPreset1Day:
		d = 24 * time.Hour
	case ExpiryPreset30Days:
		d = 30 * 24 * time.Hour
	case ExpiryPresetForever, "":
		return nil, nil
	default:
		return nil, ErrInvalidRequest
	}
	t := now.Add(d)
	return &t, nil
}
