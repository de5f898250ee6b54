package clipvault

import "github.com/google/uuid"

// Request/Response DTOs

// StartUploadRequest contains parameters for opening a multipart upload.
type StartUploadRequest struct {
	OwnerID   uuid.UUID
	FileName  string
	MimeType  string
	SizeBytes int64
}

// StartUploadResponse carries the session handles the client needs to drive
// the transfer.
type StartUploadResponse struct {
	VideoID    uuid.UUID `json:"video_id"`
	UploadID   string    `json:"upload_id"`
	StorageKey string    `json:"storage_key"`
}

// SignPartRequest contains parameters for authorizing one part transfer.
type SignPartRequest struct {
	OwnerID    uuid.UUID
	UploadID   string
	StorageKey string
	PartNumber int32
}

// SignPartResponse carries the presigned write authorization for one part.
type SignPartResponse struct {
	PartNumber int32  `json:"part_number"`
	URL        string `json:"url"`
}

// RecordPartRequest contains parameters for acknowledging one transferred
// part into the session's part registry.
type RecordPartRequest struct {
	OwnerID    uuid.UUID
	UploadID   string
	StorageKey string
	PartNumber int32
	ETag       string
}

// CompleteUploadRequest contains parameters for assembling an upload.
type CompleteUploadRequest struct {
	OwnerID    uuid.UUID
	UploadID   string
	StorageKey string
	Parts      []CompletedPart
}

// CompleteUploadResponse is the final location descriptor of the assembled
// object.
type CompleteUploadResponse struct {
	VideoID    uuid.UUID `json:"video_id"`
	StorageKey string    `json:"storage_key"`
}

// AbortUploadRequest contains parameters for discarding an upload.
type AbortUploadRequest struct {
	OwnerID    uuid.UUID
	UploadID   string
	StorageKey string
}

// CreateShareLinkRequest contains parameters for creating a share link.
type CreateShareLinkRequest struct {
	OwnerID      uuid.UUID
	VideoID      uuid.UUID
	Visibility   ShareVisibility
	ExpiryPreset ExpiryPreset
	Emails       []string
}

// ResolvedShare is what a share token resolves to: the video descriptor plus
// signed read URLs for playback and thumbnails.
type ResolvedShare struct {
	Video       *Video   `json:"video"`
	PlaybackURL string   `json:"playback_url,omitempty"`
	Thumbnails  []string `json:"thumbnails,omitempty"`
}
