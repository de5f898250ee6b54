package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clipvault/clipvault/pkg/clipvault"
	"github.com/google/uuid"
)

// Repository implements clipvault.Repository using in-memory storage
type Repository struct {
	mu            sync.RWMutex
	videos        map[uuid.UUID]*clipvault.Video
	thumbnails    map[uuid.UUID]map[int]*clipvault.Thumbnail // video_id -> position_index -> row
	sessions      map[string]*clipvault.UploadSession        // "uploadID:storageKey"
	shareLinks    map[uuid.UUID]*clipvault.ShareLink
	linksByToken  map[string]uuid.UUID
	linksByVideo  map[uuid.UUID][]uuid.UUID
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		videos:       make(map[uuid.UUID]*clipvault.Video),
		thumbnails:   make(map[uuid.UUID]map[int]*clipvault.Thumbnail),
		sessions:     make(map[string]*clipvault.UploadSession),
		shareLinks:   make(map[uuid.UUID]*clipvault.ShareLink),
		linksByToken: make(map[string]uuid.UUID),
		linksByVideo: make(map[uuid.UUID][]uuid.UUID),
	}
}

func sessionKey(uploadID, storageKey string) string {
	return uploadID + ":" + storageKey
}

// Video operations

func (r *Repository) CreateVideo(ctx context.Context, video *clipvault.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Copy to avoid external modification
	videoCopy := *video
	r.videos[video.ID] = &videoCopy
	return nil
}

func (r *Repository) GetVideo(ctx context.Context, id uuid.UUID) (*clipvault.Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	video, exists := r.videos[id]
	if !exists {
		return nil, clipvault.ErrVideoNotFound
	}
	videoCopy := *video
	return &videoCopy, nil
}

func (r *Repository) UpdateVideo(ctx context.Context, video *clipvault.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.videos[video.ID]; !exists {
		return clipvault.ErrVideoNotFound
	}
	videoCopy := *video
	r.videos[video.ID] = &videoCopy
	return nil
}

func (r *Repository) ListVideosByOwner(ctx context.Context, ownerID uuid.UUID) ([]*clipvault.Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*clipvault.Video
	for _, video := range r.videos {
		if video.OwnerID == ownerID {
			videoCopy := *video
			result = append(result, &videoCopy)
		}
	}

	// Sort by created_at descending
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

// Thumbnail operations

func (r *Repository) UpsertThumbnail(ctx context.Context, thumb *clipvault.Thumbnail) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byPosition, exists := r.thumbnails[thumb.VideoID]
	if !exists {
		byPosition = make(map[int]*clipvault.Thumbnail)
		r.thumbnails[thumb.VideoID] = byPosition
	}

	thumbCopy := *thumb
	if existing, ok := byPosition[thumb.PositionIndex]; ok {
		// Keep the original row identity on redelivery
		thumbCopy.ID = existing.ID
		thumbCopy.CreatedAt = existing.CreatedAt
	} else if thumbCopy.CreatedAt.IsZero() {
		thumbCopy.CreatedAt = time.Now().UTC()
	}
	byPosition[thumb.PositionIndex] = &thumbCopy
	return nil
}

func (r *Repository) ListThumbnails(ctx context.Context, videoID uuid.UUID) ([]*clipvault.Thumbnail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*clipvault.Thumbnail
	for _, thumb := range r.thumbnails[videoID] {
		thumbCopy := *thumb
		result = append(result, &thumbCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].PositionIndex < result[j].PositionIndex
	})

	return result, nil
}

// Upload session operations

func (r *Repository) PutUploadSession(ctx context.Context, session *clipvault.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionCopy := *session
	sessionCopy.Parts = append([]clipvault.CompletedPart(nil), session.Parts...)
	r.sessions[sessionKey(session.UploadID, session.StorageKey)] = &sessionCopy
	return nil
}

func (r *Repository) GetUploadSession(ctx context.Context, uploadID, storageKey string) (*clipvault.UploadSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[sessionKey(uploadID, storageKey)]
	if !exists {
		return nil, clipvault.ErrSessionNotFound
	}
	sessionCopy := *session
	sessionCopy.Parts = append([]clipvault.CompletedPart(nil), session.Parts...)
	return &sessionCopy, nil
}

func (r *Repository) AppendUploadPart(ctx context.Context, uploadID, storageKey string, part clipvault.CompletedPart) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[sessionKey(uploadID, storageKey)]
	if !exists {
		return clipvault.ErrSessionNotFound
	}

	for i, p := range session.Parts {
		if p.PartNumber == part.PartNumber {
			session.Parts[i].ETag = part.ETag
			return nil
		}
	}
	session.Parts = append(session.Parts, part)
	sort.Slice(session.Parts, func(i, j int) bool {
		return session.Parts[i].PartNumber < session.Parts[j].PartNumber
	})
	return nil
}

func (r *Repository) DeleteUploadSession(ctx context.Context, uploadID, storageKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionKey(uploadID, storageKey))
	return nil
}

// Share link operations

func (r *Repository) CreateShareLink(ctx context.Context, link *clipvault.ShareLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	linkCopy := *link
	linkCopy.AllowedEmails = append([]string(nil), link.AllowedEmails...)
	r.shareLinks[link.ID] = &linkCopy
	r.linksByToken[link.Token] = link.ID
	r.linksByVideo[link.VideoID] = append(r.linksByVideo[link.VideoID], link.ID)
	return nil
}

func (r *Repository) GetShareLink(ctx context.Context, id uuid.UUID) (*clipvault.ShareLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	link, exists := r.shareLinks[id]
	if !exists {
		return nil, clipvault.ErrLinkNotFound
	}
	return copyLink(link), nil
}

func (r *Repository) GetShareLinkByToken(ctx context.Context, token string) (*clipvault.ShareLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.linksByToken[token]
	if !exists {
		return nil, clipvault.ErrLinkNotFound
	}
	return copyLink(r.shareLinks[id]), nil
}

func (r *Repository) UpdateShareLink(ctx context.Context, link *clipvault.ShareLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.shareLinks[link.ID]; !exists {
		return clipvault.ErrLinkNotFound
	}
	linkCopy := *link
	linkCopy.AllowedEmails = append([]string(nil), link.AllowedEmails...)
	r.shareLinks[link.ID] = &linkCopy
	return nil
}

func (r *Repository) ListShareLinksByVideo(ctx context.Context, videoID uuid.UUID) ([]*clipvault.ShareLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*clipvault.ShareLink
	for _, id := range r.linksByVideo[videoID] {
		if link, exists := r.shareLinks[id]; exists {
			result = append(result, copyLink(link))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

func copyLink(link *clipvault.ShareLink) *clipvault.ShareLink {
	linkCopy := *link
	linkCopy.AllowedEmails = append([]string(nil), link.AllowedEmails...)
	return &linkCopy
}
