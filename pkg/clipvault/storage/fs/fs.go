package fs

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/clipvault/clipvault/pkg/clipvault"
	"github.com/google/uuid"
)

// Backend is a filesystem implementation of the clipvault.BlobStore
// interface, intended for development and testing. Multipart parts are staged
// under .parts/{uploadID}/ and concatenated on complete.
type Backend struct {
	mu        sync.RWMutex
	baseDir   string
	urlPrefix string
	uploads   map[string]string // upload id -> object key
}

// Config options for the filesystem backend
type Config struct {
	BaseDir   string // Base directory for storing files
	URLPrefix string // Optional URL prefix for signed part/read URLs
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{
		baseDir:   config.BaseDir,
		urlPrefix: config.URLPrefix,
		uploads:   make(map[string]string),
	}, nil
}

// CreateMultipartUpload opens a staged multipart session.
func (b *Backend) CreateMultipartUpload(ctx context.Context, objectKey, mimeType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	uploadID := uuid.NewString()
	if err := os.MkdirAll(b.partsDir(uploadID), 0755); err != nil {
		return "", fmt.Errorf("failed to create parts directory: %w", err)
	}
	b.uploads[uploadID] = objectKey
	return uploadID, nil
}

// PresignUploadPart returns a part upload URL when a URL prefix is
// configured; the filesystem backend otherwise requires the direct PutPart
// path.
func (b *Backend) PresignUploadPart(ctx context.Context, objectKey, uploadID string, partNumber int32, expires time.Duration) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if key, ok := b.uploads[uploadID]; !ok || key != objectKey {
		return "", errors.New("upload session not found")
	}
	if b.urlPrefix == "" {
		return "", errors.New("direct part upload required for filesystem backend")
	}
	return fmt.Sprintf("%s/parts/%s/%d", b.urlPrefix, uploadID, partNumber), nil
}

// PutPart stages one part's bytes on disk and returns its integrity tag.
func (b *Backend) PutPart(uploadID string, partNumber int32, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.uploads[uploadID]; !ok {
		return "", errors.New("upload session not found")
	}

	path := filepath.Join(b.partsDir(uploadID), strconv.Itoa(int(partNumber)))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write part: %w", err)
	}

	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

// CompleteMultipartUpload concatenates staged parts into the final object in
// part number order and removes the staging directory.
func (b *Backend) CompleteMultipartUpload(ctx context.Context, objectKey, uploadID string, parts []clipvault.CompletedPart) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if key, ok := b.uploads[uploadID]; !ok || key != objectKey {
		return errors.New("upload session not found")
	}

	sorted := make([]clipvault.CompletedPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	finalPath := filepath.Join(b.baseDir, objectKey)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	out, err := os.Create(finalPath)
	if err != nil {
		return fmt.Errorf("failed to create object file: %w", err)
	}
	defer out.Close()

	for _, p := range sorted {
		partPath := filepath.Join(b.partsDir(uploadID), strconv.Itoa(int(p.PartNumber)))
		in, err := os.Open(partPath)
		if err != nil {
			os.Remove(finalPath)
			return fmt.Errorf("part %d was never uploaded", p.PartNumber)
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			os.Remove(finalPath)
			return fmt.Errorf("failed to assemble part %d: %w", p.PartNumber, err)
		}
	}

	os.RemoveAll(b.partsDir(uploadID))
	delete(b.uploads, uploadID)
	return nil
}

// AbortMultipartUpload removes staged parts. Unknown sessions return nil.
func (b *Backend) AbortMultipartUpload(ctx context.Context, objectKey, uploadID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	os.RemoveAll(b.partsDir(uploadID))
	delete(b.uploads, uploadID)
	return nil
}

// GetObjectMeta retrieves metadata for an object in the filesystem
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*clipvault.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	filePath := filepath.Join(b.baseDir, objectKey)

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return nil, errors.New("object not found")
	} else if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	// Detect content type
	contentType := "application/octet-stream"
	if file, err := os.Open(filePath); err == nil {
		defer file.Close()
		buffer := make([]byte, 512)
		if n, err := file.Read(buffer); err == nil {
			contentType = http.DetectContentType(buffer[:n])
		}
	}

	meta := &clipvault.ObjectMeta{
		Key:         objectKey,
		Size:        info.Size(),
		ContentType: contentType,
		UpdatedAt:   info.ModTime(),
	}

	return meta, nil
}

// Upload uploads content directly to the filesystem
func (b *Backend) Upload(ctx context.Context, objectKey string, reader io.Reader) error {
	return b.UploadWithParams(ctx, reader, clipvault.UploadParams{ObjectKey: objectKey})
}

// UploadWithParams uploads content with additional parameters
func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params clipvault.UploadParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	filePath := filepath.Join(b.baseDir, params.ObjectKey)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// Download downloads content directly from the filesystem
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	filePath := filepath.Join(b.baseDir, objectKey)

	file, err := os.Open(filePath)
	if os.IsNotExist(err) {
		return nil, errors.New("object not found")
	} else if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Delete deletes content from the filesystem
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	filePath := filepath.Join(b.baseDir, objectKey)
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// GetDownloadURL returns a URL for downloading content
func (b *Backend) GetDownloadURL(ctx context.Context, objectKey string, downloadFilename string) (string, error) {
	if b.urlPrefix == "" {
		return "", errors.New("direct download required for filesystem backend")
	}
	return fmt.Sprintf("%s/download/%s", b.urlPrefix, objectKey), nil
}

// GetPreviewURL returns a URL for previewing content
func (b *Backend) GetPreviewURL(ctx context.Context, objectKey string) (string, error) {
	if b.urlPrefix == "" {
		return "", errors.New("direct preview required for filesystem backend")
	}
	return fmt.Sprintf("%s/preview/%s", b.urlPrefix, objectKey), nil
}

func (b *Backend) partsDir(uploadID string) string {
	return filepath.Join(b.baseDir, ".parts", uploadID)
}
