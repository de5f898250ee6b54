package clipvault

import (
	"context"

	"github.com/google/uuid"
)

// Service is the control plane of the upload-and-processing pipeline. It
// issues and validates multipart upload lifecycle tokens, enqueues processing
// jobs, and manages share links. No file bytes ever pass through it.
type Service interface {
	// Upload coordination
	StartUpload(ctx context.Context, req StartUploadRequest) (*StartUploadResponse, error)
	SignPart(ctx context.Context, req SignPartRequest) (*SignPartResponse, error)
	RecordPart(ctx context.Context, req RecordPartRequest) error
	CompleteUpload(ctx context.Context, req CompleteUploadRequest) (*CompleteUploadResponse, error)
	AbortUpload(ctx context.Context, req AbortUploadRequest) error

	// Processing
	EnqueueProcessing(ctx context.Context, ownerID, videoID uuid.UUID) error

	// Video access
	GetVideo(ctx context.Context, ownerID, videoID uuid.UUID) (*Video, error)
	ListVideos(ctx context.Context, ownerID uuid.UUID) ([]*Video, error)

	// Share links
	CreateShareLink(ctx context.Context, req CreateShareLinkRequest) (*ShareLink, error)
	ResolveShareLink(ctx context.Context, token, requesterEmail string) (*ResolvedShare, error)
	DisableShareLink(ctx context.Context, ownerID, linkID uuid.UUID) error
	ListShareLinks(ctx context.Context, ownerID, videoID uuid.UUID) ([]*ShareLink, error)
}
