// Package api exposes the coordinator over HTTP. Authenticated routes live
// under /api and carry the caller's identity in a JWT; share resolution is
// public under /share.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/clipvault/clipvault/pkg/clipvault"
)

// Handler handles HTTP requests for the upload, video and share-link APIs.
type Handler struct {
	service clipvault.Service
	log     *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(service clipvault.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{service: service, log: log}
}

// Router assembles the full route tree. tokenAuth verifies the bearer tokens
// on /api routes; /share/{token} is reachable without authentication.
func (h *Handler) Router(tokenAuth *jwtauth.JWTAuth) chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(tokenAuth))
		r.Use(jwtauth.Authenticator(tokenAuth))

		r.Route("/api", func(r chi.Router) {
			r.Post("/uploads", h.StartUpload)
			r.Post("/uploads/sign-part", h.SignPart)
			r.Post("/uploads/record-part", h.RecordPart)
			r.Post("/uploads/complete", h.CompleteUpload)
			r.Post("/uploads/abort", h.AbortUpload)

			r.Post("/videos/{id}/process", h.EnqueueProcessing)
			r.Get("/videos", h.ListVideos)
			r.Get("/videos/{id}", h.GetVideo)

			r.Post("/videos/{id}/share-links", h.CreateShareLink)
			r.Get("/videos/{id}/share-links", h.ListShareLinks)
			r.Delete("/share-links/{id}", h.DisableShareLink)
		})
	})

	r.Get("/share/{token}", h.ResolveShare)

	return r
}

// StartUploadRequest is the request body for opening an upload.
type StartUploadRequest struct {
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// StartUpload opens a multipart upload and returns the session handles.
func (h *Handler) StartUpload(w http.ResponseWriter, r *http.Request) {
	ownerID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req StartUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.service.StartUpload(r.Context(), clipvault.StartUploadRequest{
		OwnerID:   ownerID,
		FileName:  req.FileName,
		MimeType:  req.MimeType,
		SizeBytes: req.SizeBytes,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

// SignPartRequest is the request body for authorizing one part transfer.
type SignPartRequest struct {
	UploadID   string `json:"upload_id"`
	StorageKey string `json:"storage_key"`
	PartNumber int32  `json:"part_number"`
}

// SignPart returns a presigned write URL for one part.
func (h *Handler) SignPart(w http.ResponseWriter, r *http.Request) {
	ownerID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req SignPartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.service.SignPart(r.Context(), clipvault.SignPartRequest{
		OwnerID:    ownerID,
		UploadID:   req.UploadID,
		StorageKey: req.StorageKey,
		PartNumber: req.PartNumber,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	render.JSON(w, r, resp)
}

// RecordPartRequest is the request body for acknowledging a transferred part.
type RecordPartRequest struct {
	UploadID   string `json:"upload_id"`
	StorageKey string `json:"storage_key"`
	PartNumber int32  `json:"part_number"`
	ETag       string `json:"etag"`
}

// RecordPart registers a transferred part in the session's part registry.
func (h *Handler) RecordPart(w http.ResponseWriter, r *http.Request) {
	ownerID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req RecordPartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := h.service.RecordPart(r.Context(), clipvault.RecordPartRequest{
		OwnerID:    ownerID,
		UploadID:   req.UploadID,
		StorageKey: req.StorageKey,
		PartNumber: req.PartNumber,
		ETag:       req.ETag,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]string{"status": "recorded"})
}

// CompleteUploadRequest is the request body for assembling an upload.
type CompleteUploadRequest struct {
	UploadID   string                    `json:"upload_id"`
	StorageKey string                    `json:"storage_key"`
	Parts      []clipvault.CompletedPart `json:"parts"`
}

// CompleteUpload assembles the uploaded parts into the final object.
func (h *Handler) CompleteUpload(w http.ResponseWriter, r *http.Request) {
	ownerID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req CompleteUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.service.CompleteUpload(r.Context(), clipvault.CompleteUploadRequest{
		OwnerID:    ownerID,
		UploadID:   req.UploadID,
		StorageKey: req.StorageKey,
		Parts:      req.Parts,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	render.JSON(w, r, resp)
}

// AbortUploadRequest is the request body for discarding an upload.
type AbortUploadRequest struct {
	UploadID   string `json:"upload_id"`
	StorageKey string `json:"storage_key"`
}

// AbortUpload discards an in-flight upload. Aborting an unknown session
// succeeds.
func (h *Handler) AbortUpload(w http.ResponseWriter, r *http.Request) {
	ownerID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req AbortUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := h.service.AbortUpload(r.Context(), clipvault.AbortUploadRequest{
		OwnerID:    ownerID,
		UploadID:   req.UploadID,
		StorageKey: req.StorageKey,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]string{"status": "aborted"})
}

// EnqueueProcessing posts the processing job for an uploaded video.
func (h *Handler) EnqueueProcessing(w http.ResponseWriter, r *http.Request) {
	ownerID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	videoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid video ID", http.StatusBadRequest)
		return
	}

	if err := h.service.EnqueueProcessing(r.Context(), ownerID, videoID); err != nil {
		h.respondError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"status": "queued"})
}

// GetVideo returns the owner's video descriptor.
func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	ownerID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	videoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid video ID", http.StatusBadRequest)
		return
	}

	video, err := h.service.GetVideo(r.Context(), ownerID, videoID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	render.JSON(w, r, video)
}

// ListVideos returns all of the owner's videos.
func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	ownerID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	videos, err := h.service.ListVideos(r.Context(), ownerID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	render.JSON(w, r, videos)
}

// CreateShareLinkRequest is the request body for creating a share link.
type CreateShareLinkRequest struct {
	Visibility   string   `json:"visibility"`
	ExpiryPreset string   `json:"expiry_preset,omitempty"`
	Emails       []string `json:"emails,omitempty"`
}

// CreateShareLink creates a share link for the owner's video.
func (h *Handler) CreateShareLink(w http.ResponseWriter, r *http.Request) {
	ownerID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	videoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid video ID", http.StatusBadRequest)
		return
	}

	var req CreateShareLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	link, err := h.service.CreateShareLink(r.Context(), clipvault.CreateShareLinkRequest{
		OwnerID:      ownerID,
		VideoID:      videoID,
		Visibility:   clipvault.ShareVisibility(req.Visibility),
		ExpiryPreset: clipvault.ExpiryPreset(req.ExpiryPreset),
		Emails:       req.Emails,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, link)
}

// ListShareLinks lists the share links of the owner's video.
func (h *Handler) ListShareLinks(w http.ResponseWriter, r *http.Request) {
	ownerID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	videoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid video ID", http.StatusBadRequest)
		return
	}

	links, err := h.service.ListShareLinks(r.Context(), ownerID, videoID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	render.JSON(w, r, links)
}

// DisableShareLink revokes a share link. Revoking an already revoked link
// succeeds.
func (h *Handler) DisableShareLink(w http.ResponseWriter, r *http.Request) {
	ownerID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	linkID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid link ID", http.StatusBadRequest)
		return
	}

	if err := h.service.DisableShareLink(r.Context(), ownerID, linkID); err != nil {
		h.respondError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]string{"status": "revoked"})
}

// ResolveShare resolves a share token into playback material. Private links
// check the ?email= query parameter against the allow list.
func (h *Handler) ResolveShare(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	email := r.URL.Query().Get("email")

	share, err := h.service.ResolveShareLink(r.Context(), token, email)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	render.JSON(w, r, share)
}

// identity extracts the caller's owner id and email from the verified JWT
// claims. A token without a usable subject is rejected.
func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return uuid.Nil, "", false
	}

	sub, _ := claims["sub"].(string)
	ownerID, err := uuid.Parse(sub)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return uuid.Nil, "", false
	}

	email, _ := claims["email"].(string)
	return ownerID, email, true
}

// respondError maps service errors onto HTTP statuses.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, clipvault.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, clipvault.ErrInvalidRequest),
		errors.Is(err, clipvault.ErrInvalidStatus):
		status = http.StatusBadRequest
	case errors.Is(err, clipvault.ErrVideoNotFound),
		errors.Is(err, clipvault.ErrSessionNotFound),
		errors.Is(err, clipvault.ErrLinkNotFound),
		errors.Is(err, clipvault.ErrThumbnailNotFound):
		status = http.StatusNotFound
	case errors.Is(err, clipvault.ErrLinkGone):
		status = http.StatusGone
	case errors.Is(err, clipvault.ErrUnprocessableMedia):
		status = http.StatusUnprocessableEntity
	case clipvault.IsTransient(err):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}

	http.Error(w, err.Error(), status)
}
