package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault/pkg/clipvault"
	"github.com/clipvault/clipvault/pkg/clipvault/api"
	queuememory "github.com/clipvault/clipvault/pkg/clipvault/queue/memory"
	repomemory "github.com/clipvault/clipvault/pkg/clipvault/repo/memory"
	storagememory "github.com/clipvault/clipvault/pkg/clipvault/storage/memory"
)

type harness struct {
	router http.Handler
	svc    clipvault.Service
	store  *storagememory.Backend
	auth   *jwtauth.JWTAuth
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := storagememory.New()
	svc, err := clipvault.New(
		clipvault.WithRepository(repomemory.New()),
		clipvault.WithBlobStore(store),
		clipvault.WithJobQueue(queuememory.New()),
	)
	require.NoError(t, err)

	auth := jwtauth.New("HS256", []byte("test-secret"), nil)
	handler := api.NewHandler(svc, nil)
	return &harness{
		router: handler.Router(auth),
		svc:    svc,
		store:  store,
		auth:   auth,
	}
}

func (h *harness) token(t *testing.T, ownerID uuid.UUID, email string) string {
	t.Helper()
	claims := map[string]interface{}{"sub": ownerID.String()}
	if email != "" {
		claims["email"] = email
	}
	_, tokenString, err := h.auth.Encode(claims)
	require.NoError(t, err)
	return tokenString
}

func (h *harness) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

// uploadVideo drives a full upload through the service so route tests can
// start from an uploaded video.
func (h *harness) uploadVideo(t *testing.T, ownerID uuid.UUID) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	started, err := h.svc.StartUpload(ctx, clipvault.StartUploadRequest{
		OwnerID:   ownerID,
		FileName:  "clip.mp4",
		MimeType:  "video/mp4",
		SizeBytes: 16,
	})
	require.NoError(t, err)

	etag, err := h.store.PutPart(started.UploadID, 1, []byte("0123456789abcdef"))
	require.NoError(t, err)

	_, err = h.svc.CompleteUpload(ctx, clipvault.CompleteUploadRequest{
		OwnerID:    ownerID,
		UploadID:   started.UploadID,
		StorageKey: started.StorageKey,
		Parts:      []clipvault.CompletedPart{{PartNumber: 1, ETag: etag}},
	})
	require.NoError(t, err)
	return started.VideoID
}

func TestRoutesRequireToken(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/videos", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/videos", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenWithoutUsableSubjectIsRejected(t *testing.T) {
	h := newHarness(t)

	_, tokenString, err := h.auth.Encode(map[string]interface{}{"sub": "not-a-uuid"})
	require.NoError(t, err)

	rec := h.do(t, http.MethodGet, "/api/videos", tokenString, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	token := h.token(t, owner, "owner@example.com")

	rec := h.do(t, http.MethodPost, "/api/uploads", token, api.StartUploadRequest{
		FileName:  "demo.mp4",
		MimeType:  "video/mp4",
		SizeBytes: 4,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	started := decodeBody[clipvault.StartUploadResponse](t, rec)
	assert.NotEmpty(t, started.UploadID)
	assert.NotEmpty(t, started.StorageKey)

	rec = h.do(t, http.MethodPost, "/api/uploads/sign-part", token, api.SignPartRequest{
		UploadID:   started.UploadID,
		StorageKey: started.StorageKey,
		PartNumber: 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	signed := decodeBody[clipvault.SignPartResponse](t, rec)
	assert.Equal(t, int32(1), signed.PartNumber)
	assert.NotEmpty(t, signed.URL)

	etag, err := h.store.PutPart(started.UploadID, 1, []byte("data"))
	require.NoError(t, err)

	rec = h.do(t, http.MethodPost, "/api/uploads/record-part", token, api.RecordPartRequest{
		UploadID:   started.UploadID,
		StorageKey: started.StorageKey,
		PartNumber: 1,
		ETag:       etag,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/uploads/complete", token, api.CompleteUploadRequest{
		UploadID:   started.UploadID,
		StorageKey: started.StorageKey,
		Parts:      []clipvault.CompletedPart{{PartNumber: 1, ETag: etag}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/videos/"+started.VideoID.String()+"/process", token, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/videos/"+started.VideoID.String(), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	video := decodeBody[clipvault.Video](t, rec)
	assert.Equal(t, clipvault.VideoStatusProcessing, video.Status)

	rec = h.do(t, http.MethodGet, "/api/videos", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	videos := decodeBody[[]clipvault.Video](t, rec)
	assert.Len(t, videos, 1)
}

func TestAbortUploadOverHTTP(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	token := h.token(t, owner, "")

	rec := h.do(t, http.MethodPost, "/api/uploads", token, api.StartUploadRequest{
		FileName:  "demo.mp4",
		MimeType:  "video/mp4",
		SizeBytes: 4,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	started := decodeBody[clipvault.StartUploadResponse](t, rec)

	rec = h.do(t, http.MethodPost, "/api/uploads/abort", token, api.AbortUploadRequest{
		UploadID:   started.UploadID,
		StorageKey: started.StorageKey,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/videos/"+started.VideoID.String(), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	video := decodeBody[clipvault.Video](t, rec)
	assert.Equal(t, clipvault.VideoStatusFailed, video.Status)
}

func TestErrorStatusMapping(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	token := h.token(t, owner, "")

	t.Run("unknown video is 404", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/videos/"+uuid.NewString(), token, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed video id is 400", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/videos/not-a-uuid", token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid upload request is 400", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/uploads", token, api.StartUploadRequest{
			FileName:  "notes.txt",
			MimeType:  "text/plain",
			SizeBytes: 4,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("processing an unfinished upload is 400", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/uploads", token, api.StartUploadRequest{
			FileName:  "demo.mp4",
			MimeType:  "video/mp4",
			SizeBytes: 4,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		started := decodeBody[clipvault.StartUploadResponse](t, rec)

		rec = h.do(t, http.MethodPost, "/api/videos/"+started.VideoID.String()+"/process", token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("another owner's video is 401", func(t *testing.T) {
		videoID := h.uploadVideo(t, owner)
		otherToken := h.token(t, uuid.New(), "")

		rec := h.do(t, http.MethodGet, "/api/videos/"+videoID.String(), otherToken, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown share token is 404", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/share/no-such-token", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestShareLinkLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	token := h.token(t, owner, "owner@example.com")
	videoID := h.uploadVideo(t, owner)

	rec := h.do(t, http.MethodPost, fmt.Sprintf("/api/videos/%s/share-links", videoID), token, api.CreateShareLinkRequest{
		Visibility:   "public",
		ExpiryPreset: "1d",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	link := decodeBody[clipvault.ShareLink](t, rec)
	require.NotEmpty(t, link.Token)

	rec = h.do(t, http.MethodGet, "/share/"+link.Token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resolved := decodeBody[clipvault.ResolvedShare](t, rec)
	require.NotNil(t, resolved.Video)
	assert.Equal(t, videoID, resolved.Video.ID)

	rec = h.do(t, http.MethodGet, fmt.Sprintf("/api/videos/%s/share-links", videoID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	links := decodeBody[[]clipvault.ShareLink](t, rec)
	assert.Len(t, links, 1)

	rec = h.do(t, http.MethodDelete, "/api/share-links/"+link.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/share/"+link.Token, "", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestPrivateShareRequiresAllowListedEmail(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	token := h.token(t, owner, "owner@example.com")
	videoID := h.uploadVideo(t, owner)

	rec := h.do(t, http.MethodPost, fmt.Sprintf("/api/videos/%s/share-links", videoID), token, api.CreateShareLinkRequest{
		Visibility: "private",
		Emails:     []string{"viewer@example.com"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	link := decodeBody[clipvault.ShareLink](t, rec)

	rec = h.do(t, http.MethodGet, "/share/"+link.Token, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodGet, "/share/"+link.Token+"?email=intruder@example.com", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodGet, "/share/"+link.Token+"?email=viewer@example.com", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateShareLinkRejectsUnknownVisibility(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	token := h.token(t, owner, "")
	videoID := h.uploadVideo(t, owner)

	rec := h.do(t, http.MethodPost, fmt.Sprintf("/api/videos/%s/share-links", videoID), token, api.CreateShareLinkRequest{
		Visibility: "everyone",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
