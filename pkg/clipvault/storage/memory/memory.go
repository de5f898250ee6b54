package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/clipvault/clipvault/pkg/clipvault"
	"github.com/google/uuid"
)

// Backend is an in-memory implementation of the clipvault.BlobStore
// interface. Multipart sessions are staged in memory and assembled on
// complete, mirroring the S3 contract closely enough for unit tests.
type Backend struct {
	mu              sync.RWMutex
	objects         map[string][]byte
	objectsMimeType map[string]string
	uploads         map[string]*multipartUpload // upload id -> staged parts
}

type multipartUpload struct {
	objectKey string
	mimeType  string
	parts     map[int32]stagedPart
}

type stagedPart struct {
	data []byte
	etag string
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects:         make(map[string][]byte),
		objectsMimeType: make(map[string]string),
		uploads:         make(map[string]*multipartUpload),
	}
}

// CreateMultipartUpload opens a staged multipart session.
func (b *Backend) CreateMultipartUpload(ctx context.Context, objectKey, mimeType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	uploadID := uuid.NewString()
	b.uploads[uploadID] = &multipartUpload{
		objectKey: objectKey,
		mimeType:  mimeType,
		parts:     make(map[int32]stagedPart),
	}
	return uploadID, nil
}

// PresignUploadPart returns a deterministic pseudo-URL identifying the part.
// Tests route these URLs to PutPart through a local HTTP handler.
func (b *Backend) PresignUploadPart(ctx context.Context, objectKey, uploadID string, partNumber int32, expires time.Duration) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	up, ok := b.uploads[uploadID]
	if !ok || up.objectKey != objectKey {
		return "", errors.New("upload session not found")
	}
	return fmt.Sprintf("memory://%s/%d", uploadID, partNumber), nil
}

// PutPart stages one part's bytes and returns its integrity tag. It is the
// data-plane counterpart of PresignUploadPart for this backend.
func (b *Backend) PutPart(uploadID string, partNumber int32, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	up, ok := b.uploads[uploadID]
	if !ok {
		return "", errors.New("upload session not found")
	}

	sum := md5.Sum(data)
	etag := hex.EncodeToString(sum[:])
	buf := make([]byte, len(data))
	copy(buf, data)
	up.parts[partNumber] = stagedPart{data: buf, etag: etag}
	return etag, nil
}

// CompleteMultipartUpload assembles staged parts into the final object. All
// referenced parts must have been uploaded with matching tags.
func (b *Backend) CompleteMultipartUpload(ctx context.Context, objectKey, uploadID string, parts []clipvault.CompletedPart) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	up, ok := b.uploads[uploadID]
	if !ok || up.objectKey != objectKey {
		return errors.New("upload session not found")
	}

	sorted := make([]clipvault.CompletedPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	var assembled bytes.Buffer
	for _, p := range sorted {
		staged, ok := up.parts[p.PartNumber]
		if !ok {
			return fmt.Errorf("part %d was never uploaded", p.PartNumber)
		}
		if staged.etag != p.ETag {
			return fmt.Errorf("part %d etag mismatch", p.PartNumber)
		}
		assembled.Write(staged.data)
	}

	b.objects[objectKey] = assembled.Bytes()
	if up.mimeType != "" {
		b.objectsMimeType[objectKey] = up.mimeType
	} else {
		b.objectsMimeType[objectKey] = "application/octet-stream"
	}
	delete(b.uploads, uploadID)
	return nil
}

// AbortMultipartUpload discards staged parts. Unknown sessions are not an
// error, so abort is idempotent.
func (b *Backend) AbortMultipartUpload(ctx context.Context, objectKey, uploadID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.uploads, uploadID)
	return nil
}

// GetObjectMeta retrieves metadata for an object in memory
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*clipvault.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[objectKey]
	if !exists {
		return nil, errors.New("object not found")
	}

	sum := md5.Sum(data)
	meta := &clipvault.ObjectMeta{
		Key:         objectKey,
		Size:        int64(len(data)),
		ContentType: b.objectsMimeType[objectKey],
		ETag:        hex.EncodeToString(sum[:]),
	}

	return meta, nil
}

// Upload uploads content directly
func (b *Backend) Upload(ctx context.Context, objectKey string, reader io.Reader) error {
	return b.UploadWithParams(ctx, reader, clipvault.UploadParams{ObjectKey: objectKey})
}

// UploadWithParams uploads content with parameters
func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params clipvault.UploadParams) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[params.ObjectKey] = data
	if params.MimeType != "" {
		b.objectsMimeType[params.ObjectKey] = params.MimeType
	} else if _, exists := b.objectsMimeType[params.ObjectKey]; !exists {
		b.objectsMimeType[params.ObjectKey] = "application/octet-stream"
	}
	return nil
}

// Download downloads content directly
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[objectKey]
	if !exists {
		return nil, errors.New("object not found")
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete deletes content
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.objects, objectKey)
	delete(b.objectsMimeType, objectKey)
	return nil
}

// GetDownloadURL returns a pseudo-URL for downloading content. The memory
// backend has no data plane of its own; tests serve these through a local
// handler when a real URL is needed.
func (b *Backend) GetDownloadURL(ctx context.Context, objectKey string, downloadFilename string) (string, error) {
	if err := b.mustExist(objectKey); err != nil {
		return "", err
	}
	return "memory://objects/" + objectKey, nil
}

// GetPreviewURL returns a pseudo-URL for previewing content
func (b *Backend) GetPreviewURL(ctx context.Context, objectKey string) (string, error) {
	if err := b.mustExist(objectKey); err != nil {
		return "", err
	}
	return "memory://objects/" + objectKey, nil
}

// HasOpenUpload reports whether a multipart session is still staged.
func (b *Backend) HasOpenUpload(uploadID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.uploads[uploadID]
	return ok
}

func (b *Backend) mustExist(objectKey string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, exists := b.objects[objectKey]; !exists {
		return errors.New("object not found")
	}
	return nil
}
