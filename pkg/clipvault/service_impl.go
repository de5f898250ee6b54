package clipvault

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultPartURLTTL bounds the lifetime of a single-part write
	// authorization.
	DefaultPartURLTTL = time.Hour

	// DefaultSessionTTL is how long an upload session may stay open before
	// the storage backend's own lifecycle rules may reclaim it.
	DefaultSessionTTL = 24 * time.Hour
)

// service implements the Service interface
type service struct {
	repo       Repository
	store      BlobStore
	queue      JobQueue
	mailer     Mailer
	events     EventSink
	log        *slog.Logger
	keyFn      ObjectKeyFunc
	partSize   int64
	partURLTTL time.Duration
	sessionTTL time.Duration
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the metadata repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) { s.repo = repo }
}

// WithBlobStore sets the object storage backend
func WithBlobStore(store BlobStore) Option {
	return func(s *service) { s.store = store }
}

// WithJobQueue sets the processing job queue
func WithJobQueue(queue JobQueue) Option {
	return func(s *service) { s.queue = queue }
}

// WithMailer sets the outbound mailer used for private-link notifications
func WithMailer(mailer Mailer) Option {
	return func(s *service) { s.mailer = mailer }
}

// WithEventSink sets the event sink for observable state transitions
func WithEventSink(sink EventSink) Option {
	return func(s *service) { s.events = sink }
}

// WithLogger sets the structured logger
func WithLogger(log *slog.Logger) Option {
	return func(s *service) { s.log = log }
}

// WithObjectKeyFunc overrides storage key generation
func WithObjectKeyFunc(fn ObjectKeyFunc) Option {
	return func(s *service) { s.keyFn = fn }
}

// WithPartSize overrides the fixed chunk size clients must split files by.
// Completing an upload requires exactly ceil(size/partSize) parts.
func WithPartSize(size int64) Option {
	return func(s *service) { s.partSize = size }
}

// WithPartURLTTL overrides the lifetime of presigned part URLs. Values above
// one hour are clamped.
func WithPartURLTTL(ttl time.Duration) Option {
	return func(s *service) { s.partURLTTL = ttl }
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		events:     NewNoopEventSink(),
		mailer:     NewNoopMailer(),
		keyFn:      DefaultObjectKey,
		partSize:   PartSize,
		partURLTTL: DefaultPartURLTTL,
		sessionTTL: DefaultSessionTTL,
	}

	for _, option := range options {
		option(s)
	}

	if s.repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.partSize <= 0 {
		s.partSize = PartSize
	}
	if s.partURLTTL <= 0 || s.partURLTTL > time.Hour {
		s.partURLTTL = DefaultPartURLTTL
	}

	return s, nil
}

// Upload coordination

func (s *service) StartUpload(ctx context.Context, req StartUploadRequest) (*StartUploadResponse, error) {
	if req.OwnerID == uuid.Nil {
		return nil, ErrUnauthorized
	}
	if req.FileName == "" || req.SizeBytes <= 0 {
		return nil, fmt.Errorf("%w: file name and size are required", ErrInvalidRequest)
	}
	if !strings.HasPrefix(req.MimeType, "video/") {
		return nil, fmt.Errorf("%w: unsupported mime type %q", ErrInvalidRequest, req.MimeType)
	}

	now := time.Now().UTC()
	storageKey := s.keyFn(req.OwnerID, req.FileName, now)

	video := &Video{
		ID:         uuid.New(),
		OwnerID:    req.OwnerID,
		StorageKey: storageKey,
		FileName:   req.FileName,
		MimeType:   req.MimeType,
		SizeBytes:  req.SizeBytes,
		Status:     VideoStatusUploading,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateVideo(ctx, video); err != nil {
		return nil, &VideoError{VideoID: video.ID, Op: "start_upload", Err: err}
	}

	uploadID, err := s.store.CreateMultipartUpload(ctx, storageKey, req.MimeType)
	if err != nil {
		s.failVideo(ctx, video, "could not open multipart upload")
		return nil, &StorageError{Key: storageKey, Op: "create_multipart", Err: err}
	}

	session := &UploadSession{
		UploadID:   uploadID,
		StorageKey: storageKey,
		VideoID:    video.ID,
		OwnerID:    req.OwnerID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.sessionTTL),
	}
	if err := s.repo.PutUploadSession(ctx, session); err != nil {
		s.failVideo(ctx, video, "could not persist upload session")
		if abortErr := s.store.AbortMultipartUpload(ctx, storageKey, uploadID); abortErr != nil {
			s.log.ErrorContext(ctx, "abort after session persist failure", "storage_key", storageKey, "error", abortErr)
		}
		return nil, &VideoError{VideoID: video.ID, Op: "start_upload", Err: err}
	}

	s.fireVideoEvent(ctx, video)

	return &StartUploadResponse{
		VideoID:    video.ID,
		UploadID:   uploadID,
		StorageKey: storageKey,
	}, nil
}

func (s *service) SignPart(ctx context.Context, req SignPartRequest) (*SignPartResponse, error) {
	if req.UploadID == "" || req.StorageKey == "" || req.PartNumber < 1 {
		return nil, fmt.Errorf("%w: upload id, storage key and part number are required", ErrInvalidRequest)
	}

	session, err := s.authorizedSession(ctx, req.OwnerID, req.UploadID, req.StorageKey)
	if err != nil {
		return nil, err
	}

	url, err := s.store.PresignUploadPart(ctx, session.StorageKey, session.UploadID, req.PartNumber, s.partURLTTL)
	if err != nil {
		return nil, &StorageError{Key: session.StorageKey, Op: "presign_part", Err: err}
	}

	return &SignPartResponse{PartNumber: req.PartNumber, URL: url}, nil
}

func (s *service) RecordPart(ctx context.Context, req RecordPartRequest) error {
	if req.UploadID == "" || req.StorageKey == "" || req.PartNumber < 1 {
		return fmt.Errorf("%w: upload id, storage key and part number are required", ErrInvalidRequest)
	}
	if req.ETag == "" {
		return fmt.Errorf("%w: part %d is missing its etag", ErrInvalidRequest, req.PartNumber)
	}

	session, err := s.authorizedSession(ctx, req.OwnerID, req.UploadID, req.StorageKey)
	if err != nil {
		return err
	}

	part := CompletedPart{PartNumber: req.PartNumber, ETag: req.ETag}
	if err := s.repo.AppendUploadPart(ctx, session.UploadID, session.StorageKey, part); err != nil {
		return &VideoError{VideoID: session.VideoID, Op: "record_part", Err: err}
	}
	return nil
}

func (s *service) CompleteUpload(ctx context.Context, req CompleteUploadRequest) (*CompleteUploadResponse, error) {
	if req.UploadID == "" || req.StorageKey == "" {
		return nil, fmt.Errorf("%w: upload id and storage key are required", ErrInvalidRequest)
	}
	if err := validateParts(req.Parts); err != nil {
		return nil, err
	}

	session, err := s.authorizedSession(ctx, req.OwnerID, req.UploadID, req.StorageKey)
	if err != nil {
		return nil, err
	}

	video, err := s.repo.GetVideo(ctx, session.VideoID)
	if err != nil {
		return nil, &VideoError{VideoID: session.VideoID, Op: "complete_upload", Err: err}
	}

	// A strict subset would assemble a truncated object, so the part count
	// must match what the declared file size splits into.
	if expected := PartCount(video.SizeBytes, s.partSize); len(req.Parts) != expected {
		return nil, fmt.Errorf("%w: expected %d parts for %d bytes, got %d",
			ErrInvalidRequest, expected, video.SizeBytes, len(req.Parts))
	}

	// Storage-side assembly failure leaves the video untouched so the caller
	// can retry complete or abort.
	if err := s.store.CompleteMultipartUpload(ctx, session.StorageKey, session.UploadID, req.Parts); err != nil {
		return nil, &StorageError{Key: session.StorageKey, Op: "complete_multipart", Err: err}
	}

	if err := s.transitionVideo(ctx, video, VideoStatusUploaded, ""); err != nil {
		return nil, err
	}

	if err := s.repo.DeleteUploadSession(ctx, session.UploadID, session.StorageKey); err != nil {
		s.log.ErrorContext(ctx, "delete upload session", "upload_id", session.UploadID, "error", err)
	}

	return &CompleteUploadResponse{VideoID: video.ID, StorageKey: session.StorageKey}, nil
}

func (s *service) AbortUpload(ctx context.Context, req AbortUploadRequest) error {
	if req.UploadID == "" || req.StorageKey == "" {
		return fmt.Errorf("%w: upload id and storage key are required", ErrInvalidRequest)
	}

	session, err := s.authorizedSession(ctx, req.OwnerID, req.UploadID, req.StorageKey)
	if err != nil {
		// Aborting an already-aborted or unknown session is not an error.
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}

	if err := s.store.AbortMultipartUpload(ctx, session.StorageKey, session.UploadID); err != nil {
		return &StorageError{Key: session.StorageKey, Op: "abort_multipart", Err: err}
	}

	if video, err := s.repo.GetVideo(ctx, session.VideoID); err == nil {
		s.failVideo(ctx, video, "upload aborted")
	}

	if err := s.repo.DeleteUploadSession(ctx, session.UploadID, session.StorageKey); err != nil {
		s.log.ErrorContext(ctx, "delete upload session", "upload_id", session.UploadID, "error", err)
	}

	return nil
}

// Processing

func (s *service) EnqueueProcessing(ctx context.Context, ownerID, videoID uuid.UUID) error {
	if s.queue == nil {
		return fmt.Errorf("no job queue configured")
	}

	video, err := s.ownedVideo(ctx, ownerID, videoID)
	if err != nil {
		return err
	}

	// Re-enqueue of a video already in processing is tolerated; the worker's
	// idempotency makes duplicate jobs safe.
	if video.Status != VideoStatusUploaded && video.Status != VideoStatusProcessing {
		return fmt.Errorf("%w: video is %s", ErrInvalidStatus, video.Status)
	}

	job := ProcessingJob{VideoID: video.ID, StorageKey: video.StorageKey}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return &VideoError{VideoID: video.ID, Op: "enqueue", Err: err}
	}

	if video.Status == VideoStatusUploaded {
		if err := s.transitionVideo(ctx, video, VideoStatusProcessing, ""); err != nil {
			return err
		}
	}

	return nil
}

// Video access

func (s *service) GetVideo(ctx context.Context, ownerID, videoID uuid.UUID) (*Video, error) {
	return s.ownedVideo(ctx, ownerID, videoID)
}

func (s *service) ListVideos(ctx context.Context, ownerID uuid.UUID) ([]*Video, error) {
	if ownerID == uuid.Nil {
		return nil, ErrUnauthorized
	}
	return s.repo.ListVideosByOwner(ctx, ownerID)
}

// Share links

func (s *service) CreateShareLink(ctx context.Context, req CreateShareLinkRequest) (*ShareLink, error) {
	video, err := s.ownedVideo(ctx, req.OwnerID, req.VideoID)
	if err != nil {
		return nil, err
	}

	if req.Visibility != ShareVisibilityPublic && req.Visibility != ShareVisibilityPrivate {
		return nil, fmt.Errorf("%w: unknown visibility %q", ErrInvalidRequest, req.Visibility)
	}

	now := time.Now().UTC()
	expiresAt, err := ExpiryFromPreset(req.ExpiryPreset, now)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown expiry preset %q", ErrInvalidRequest, req.ExpiryPreset)
	}

	token, err := newShareToken()
	if err != nil {
		return nil, fmt.Errorf("generate share token: %w", err)
	}

	link := &ShareLink{
		ID:         uuid.New(),
		VideoID:    video.ID,
		OwnerID:    req.OwnerID,
		Token:      token,
		Visibility: req.Visibility,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
	}
	if req.Visibility == ShareVisibilityPrivate {
		link.AllowedEmails = normalizeEmails(req.Emails)
	}

	if err := s.repo.CreateShareLink(ctx, link); err != nil {
		return nil, fmt.Errorf("create share link: %w", err)
	}

	if err := s.events.ShareLinkCreated(ctx, link); err != nil {
		s.log.ErrorContext(ctx, "share link created event", "link_id", link.ID, "error", err)
	}

	// Notification is best effort: a failed send never fails link creation.
	for _, email := range link.AllowedEmails {
		subject := fmt.Sprintf("%s shared a video with you", video.FileName)
		body := fmt.Sprintf("<p>You have been given access to <strong>%s</strong>.</p>", video.FileName)
		if err := s.mailer.Send(ctx, email, subject, body); err != nil {
			s.log.WarnContext(ctx, "share notification failed", "to", email, "link_id", link.ID, "error", err)
		}
	}

	return link, nil
}

func (s *service) ResolveShareLink(ctx context.Context, token, requesterEmail string) (*ResolvedShare, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", ErrInvalidRequest)
	}

	link, err := s.repo.GetShareLinkByToken(ctx, token)
	if err != nil {
		return nil, ErrLinkNotFound
	}

	now := time.Now().UTC()
	if link.Revoked || link.Expired(now) {
		return nil, ErrLinkGone
	}

	// Private links require the requester to be on the allow-list. This check
	// is unconditional for every private resolution path.
	if link.Visibility == ShareVisibilityPrivate {
		if requesterEmail == "" || !containsEmail(link.AllowedEmails, requesterEmail) {
			return nil, ErrUnauthorized
		}
	}

	video, err := s.repo.GetVideo(ctx, link.VideoID)
	if err != nil {
		return nil, ErrVideoNotFound
	}

	link.LastViewedAt = &now
	if err := s.repo.UpdateShareLink(ctx, link); err != nil {
		s.log.ErrorContext(ctx, "record share link view", "link_id", link.ID, "error", err)
	}

	resolved := &ResolvedShare{Video: video}
	if video.Status == VideoStatusReady {
		if url, err := s.store.GetPreviewURL(ctx, video.StorageKey); err == nil {
			resolved.PlaybackURL = url
		} else {
			s.log.WarnContext(ctx, "presign playback url", "video_id", video.ID, "error", err)
		}
		if thumbs, err := s.repo.ListThumbnails(ctx, video.ID); err == nil {
			for _, t := range thumbs {
				if url, err := s.store.GetPreviewURL(ctx, t.StorageKey); err == nil {
					resolved.Thumbnails = append(resolved.Thumbnails, url)
				}
			}
		}
	}

	return resolved, nil
}

func (s *service) DisableShareLink(ctx context.Context, ownerID, linkID uuid.UUID) error {
	if ownerID == uuid.Nil {
		return ErrUnauthorized
	}

	link, err := s.repo.GetShareLink(ctx, linkID)
	if err != nil {
		return ErrLinkNotFound
	}
	if link.OwnerID != ownerID {
		return ErrUnauthorized
	}
	if link.Revoked {
		return nil
	}

	link.Revoked = true
	if err := s.repo.UpdateShareLink(ctx, link); err != nil {
		return fmt.Errorf("revoke share link: %w", err)
	}

	if err := s.events.ShareLinkRevoked(ctx, link.ID); err != nil {
		s.log.ErrorContext(ctx, "share link revoked event", "link_id", link.ID, "error", err)
	}

	return nil
}

func (s *service) ListShareLinks(ctx context.Context, ownerID, videoID uuid.UUID) ([]*ShareLink, error) {
	if _, err := s.ownedVideo(ctx, ownerID, videoID); err != nil {
		return nil, err
	}
	return s.repo.ListShareLinksByVideo(ctx, videoID)
}

// Helpers

func (s *service) ownedVideo(ctx context.Context, ownerID, videoID uuid.UUID) (*Video, error) {
	if ownerID == uuid.Nil {
		return nil, ErrUnauthorized
	}
	video, err := s.repo.GetVideo(ctx, videoID)
	if err != nil {
		return nil, ErrVideoNotFound
	}
	if video.OwnerID != ownerID {
		return nil, ErrUnauthorized
	}
	return video, nil
}

func (s *service) authorizedSession(ctx context.Context, ownerID uuid.UUID, uploadID, storageKey string) (*UploadSession, error) {
	if ownerID == uuid.Nil {
		return nil, ErrUnauthorized
	}
	session, err := s.repo.GetUploadSession(ctx, uploadID, storageKey)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	// The owner check is the sole trust boundary preventing cross-tenant
	// storage writes.
	if session.OwnerID != ownerID {
		return nil, ErrUnauthorized
	}
	return session, nil
}

func (s *service) transitionVideo(ctx context.Context, video *Video, to VideoStatus, reason string) error {
	if !video.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, video.Status, to)
	}
	video.Status = to
	video.FailureReason = reason
	video.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateVideo(ctx, video); err != nil {
		return &VideoError{VideoID: video.ID, Op: "update_status", Err: err}
	}
	s.fireVideoEvent(ctx, video)
	return nil
}

func (s *service) failVideo(ctx context.Context, video *Video, reason string) {
	if video.Status == VideoStatusFailed {
		return
	}
	if err := s.transitionVideo(ctx, video, VideoStatusFailed, reason); err != nil {
		s.log.ErrorContext(ctx, "mark video failed", "video_id", video.ID, "error", err)
	}
}

func (s *service) fireVideoEvent(ctx context.Context, video *Video) {
	if err := s.events.VideoStatusChanged(ctx, video); err != nil {
		s.log.ErrorContext(ctx, "video status event", "video_id", video.ID, "error", err)
	}
}

// validateParts checks that parts are well formed and cover part numbers 1..N
// contiguously with no gaps or duplicates.
func validateParts(parts []CompletedPart) error {
	if len(parts) == 0 {
		return fmt.Errorf("%w: parts are required", ErrInvalidRequest)
	}
	sorted := make([]CompletedPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })
	for i, p := range sorted {
		if p.ETag == "" {
			return fmt.Errorf("%w: part %d is missing its etag", ErrInvalidRequest, p.PartNumber)
		}
		if p.PartNumber != int32(i+1) {
			return fmt.Errorf("%w: parts must cover 1..%d contiguously", ErrInvalidRequest, len(parts))
		}
	}
	return nil
}

func newShareToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func normalizeEmails(emails []string) []string {
	out := make([]string, 0, len(emails))
	seen := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

func containsEmail(allowed []string, email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, e := range allowed {
		if e == email {
			return true
		}
	}
	return false
}
