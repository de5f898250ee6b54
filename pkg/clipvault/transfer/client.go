package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/clipvault/clipvault/pkg/clipvault"
)

// Client drives a complete multipart upload against the coordinator's HTTP
// API from start through completion. Any failure path aborts the session so
// storage can reclaim half-finished objects.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	uploader   *Uploader
}

// ClientOption is a functional option for configuring a Client
type ClientOption func(*Client)

// WithClientHTTP sets the HTTP client used for control-plane calls
func WithClientHTTP(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithUploader sets the part uploader
func WithUploader(u *Uploader) ClientOption {
	return func(c *Client) { c.uploader = u }
}

// NewClient creates a coordinator API client. authToken is the caller's
// bearer token; the coordinator derives the owner identity from it.
func NewClient(baseURL, authToken string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		authToken:  authToken,
		httpClient: http.DefaultClient,
		uploader:   NewUploader(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UploadFile uploads the file at path end to end and returns the resulting
// video id. On transfer failure the session is aborted before the error is
// returned.
func (c *Client) UploadFile(ctx context.Context, path, mimeType string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}

	var started clipvault.StartUploadResponse
	err = c.post(ctx, "/api/uploads", map[string]interface{}{
		"file_name":  filepath.Base(path),
		"mime_type":  mimeType,
		"size_bytes": info.Size(),
	}, &started)
	if err != nil {
		return "", fmt.Errorf("start upload: %w", err)
	}

	signer := PartSignerFunc(func(ctx context.Context, partNumber int32) (string, error) {
		var signed clipvault.SignPartResponse
		err := c.post(ctx, "/api/uploads/sign-part", map[string]interface{}{
			"upload_id":   started.UploadID,
			"storage_key": started.StorageKey,
			"part_number": partNumber,
		}, &signed)
		if err != nil {
			return "", err
		}
		return signed.URL, nil
	})

	ack := PartAckFunc(func(ctx context.Context, part clipvault.CompletedPart) error {
		return c.post(ctx, "/api/uploads/record-part", map[string]interface{}{
			"upload_id":   started.UploadID,
			"storage_key": started.StorageKey,
			"part_number": part.PartNumber,
			"etag":        part.ETag,
		}, nil)
	})

	parts, err := c.uploader.UploadWithAck(ctx, f, info.Size(), signer, ack)
	if err != nil {
		c.abort(started.UploadID, started.StorageKey)
		return "", err
	}

	err = c.post(ctx, "/api/uploads/complete", map[string]interface{}{
		"upload_id":   started.UploadID,
		"storage_key": started.StorageKey,
		"parts":       parts,
	}, nil)
	if err != nil {
		c.abort(started.UploadID, started.StorageKey)
		return "", fmt.Errorf("complete upload: %w", err)
	}

	return started.VideoID.String(), nil
}

// EnqueueProcessing asks the server to queue the processing job for a video.
func (c *Client) EnqueueProcessing(ctx context.Context, videoID string) error {
	return c.post(ctx, "/api/videos/"+videoID+"/process", nil, nil)
}

// abort is best effort and runs outside the (possibly canceled) upload
// context so cancellation still releases the half-finished object.
func (c *Client) abort(uploadID, storageKey string) {
	_ = c.post(context.Background(), "/api/uploads/abort", map[string]interface{}{
		"upload_id":   uploadID,
		"storage_key": storageKey,
	}, nil)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: %s: %s", path, resp.Status, bytes.TrimSpace(msg))
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
