package clipvault

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore defines the interface for object storage backends. Bytes move
// between the client (or worker) and the backend directly; the coordinator
// only ever calls the control-plane methods.
type BlobStore interface {
	// CreateMultipartUpload opens a multipart session for the given key and
	// returns the backend-issued upload id.
	CreateMultipartUpload(ctx context.Context, objectKey, mimeType string) (string, error)

	// PresignUploadPart returns a short-lived single-use write authorization
	// scoped to exactly one part of an open multipart session.
	PresignUploadPart(ctx context.Context, objectKey, uploadID string, partNumber int32, expires time.Duration) (string, error)

	// CompleteMultipartUpload assembles the uploaded parts into the final
	// object. Parts must carry the backend-assigned ETags.
	CompleteMultipartUpload(ctx context.Context, objectKey, uploadID string, parts []CompletedPart) error

	// AbortMultipartUpload discards all uploaded parts. Aborting an unknown
	// or already-aborted session is not an error.
	AbortMultipartUpload(ctx context.Context, objectKey, uploadID string) error

	// Upload uploads content directly (worker-side writes, dev backends)
	Upload(ctx context.Context, objectKey string, reader io.Reader) error

	// UploadWithParams uploads content with additional parameters
	UploadWithParams(ctx context.Context, reader io.Reader, params UploadParams) error

	// Download downloads content directly
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Delete deletes content
	Delete(ctx context.Context, objectKey string) error

	// GetObjectMeta retrieves metadata for a stored object
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)

	// GetDownloadURL returns a signed time-limited URL for downloading
	GetDownloadURL(ctx context.Context, objectKey string, downloadFilename string) (string, error)

	// GetPreviewURL returns a signed time-limited URL for inline playback
	GetPreviewURL(ctx context.Context, objectKey string) (string, error)
}

// ObjectMeta contains metadata about an object in storage
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
}

// UploadParams contains parameters for uploading an object
type UploadParams struct {
	ObjectKey string
	MimeType  string
}

// Repository defines the interface for metadata persistence.
type Repository interface {
	// Video operations
	CreateVideo(ctx context.Context, video *Video) error
	GetVideo(ctx context.Context, id uuid.UUID) (*Video, error)
	UpdateVideo(ctx context.Context, video *Video) error
	ListVideosByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Video, error)

	// Thumbnail operations. Upsert is keyed by (video_id, position_index) so
	// duplicate job delivery never grows the row set.
	UpsertThumbnail(ctx context.Context, thumb *Thumbnail) error
	ListThumbnails(ctx context.Context, videoID uuid.UUID) ([]*Thumbnail, error)

	// Upload session operations. AppendUploadPart grows the session's part
	// registry; re-appending a part number replaces its etag instead of
	// duplicating the entry.
	PutUploadSession(ctx context.Context, session *UploadSession) error
	GetUploadSession(ctx context.Context, uploadID, storageKey string) (*UploadSession, error)
	AppendUploadPart(ctx context.Context, uploadID, storageKey string, part CompletedPart) error
	DeleteUploadSession(ctx context.Context, uploadID, storageKey string) error

	// Share link operations
	CreateShareLink(ctx context.Context, link *ShareLink) error
	GetShareLink(ctx context.Context, id uuid.UUID) (*ShareLink, error)
	GetShareLinkByToken(ctx context.Context, token string) (*ShareLink, error)
	UpdateShareLink(ctx context.Context, link *ShareLink) error
	ListShareLinksByVideo(ctx context.Context, videoID uuid.UUID) ([]*ShareLink, error)
}

// JobQueue abstracts the broker used for processing jobs. Delivery is
// at-least-once; the broker's visibility timeout makes a crashed worker's
// job reclaimable.
type JobQueue interface {
	// Enqueue posts a job. Broker unavailability is surfaced synchronously;
	// jobs are never silently dropped.
	Enqueue(ctx context.Context, job ProcessingJob) error

	// Receive claims the next job, blocking up to the implementation's poll
	// window. Returns nil message when nothing is available.
	Receive(ctx context.Context) (*JobMessage, error)

	// Ack acknowledges successful processing and removes the delivery.
	Ack(ctx context.Context, msg *JobMessage) error

	// Reject removes the delivery without retry, for failures that redelivery
	// cannot fix. The caller is responsible for recording the terminal state.
	Reject(ctx context.Context, msg *JobMessage) error
}

// Mailer sends outbound notification email. Callers treat sends as
// fire-and-forget: failures are logged, never fatal to the primary flow.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// EventSink receives observable state transitions for downstream change
// feeds. Implementations must not block the primary flow.
type EventSink interface {
	VideoStatusChanged(ctx context.Context, video *Video) error
	ThumbnailCreated(ctx context.Context, thumb *Thumbnail) error
	ShareLinkCreated(ctx context.Context, link *ShareLink) error
	ShareLinkRevoked(ctx context.Context, linkID uuid.UUID) error
}
