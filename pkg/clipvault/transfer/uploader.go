package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clipvault/clipvault/pkg/clipvault"
	"golang.org/x/sync/errgroup"
)

// PartSigner requests a signed write authorization for one part. The upload
// coordinator's SignPart operation sits behind this interface.
type PartSigner interface {
	SignPart(ctx context.Context, partNumber int32) (string, error)
}

// PartSignerFunc adapts a function to the PartSigner interface.
type PartSignerFunc func(ctx context.Context, partNumber int32) (string, error)

func (f PartSignerFunc) SignPart(ctx context.Context, partNumber int32) (string, error) {
	return f(ctx, partNumber)
}

// PartAckFunc is called once per part after the bytes land, with the
// backend-assigned tag. Returning an error fails the upload.
type PartAckFunc func(ctx context.Context, part clipvault.CompletedPart) error

// ProgressFunc receives aggregate transfer progress: bytes sent so far
// (acknowledged parts plus in-flight partials) and the total size. Reported
// values are monotonically non-decreasing.
type ProgressFunc func(bytesSent, totalBytes int64)

// Uploader transfers a file as fixed-size parts with a bounded concurrency
// window and per-part retry. Bytes go straight to the signed URLs; the
// control plane only ever sees part numbers and tags.
type Uploader struct {
	httpClient    *http.Client
	partSize      int64
	concurrency   int
	retryAttempts int
	retryBase     time.Duration
	progressFunc  ProgressFunc
}

// UploaderOption is a functional option for configuring an Uploader
type UploaderOption func(*Uploader)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) UploaderOption {
	return func(u *Uploader) { u.httpClient = client }
}

// WithPartSize overrides the fixed chunk size
func WithPartSize(size int64) UploaderOption {
	return func(u *Uploader) { u.partSize = size }
}

// WithConcurrency bounds the number of in-flight part transfers
func WithConcurrency(n int) UploaderOption {
	return func(u *Uploader) { u.concurrency = n }
}

// WithRetry configures per-part retry behavior: total attempts and the base
// delay of the exponential backoff.
func WithRetry(attempts int, base time.Duration) UploaderOption {
	return func(u *Uploader) {
		u.retryAttempts = attempts
		u.retryBase = base
	}
}

// WithProgress sets a progress callback function
func WithProgress(fn ProgressFunc) UploaderOption {
	return func(u *Uploader) { u.progressFunc = fn }
}

// NewUploader creates a new multipart uploader
func NewUploader(opts ...UploaderOption) *Uploader {
	u := &Uploader{
		httpClient: &http.Client{
			Timeout: 30 * time.Minute, // long timeout for large parts
		},
		partSize:      DefaultPartSize,
		concurrency:   4,
		retryAttempts: 4,
		retryBase:     500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload transfers size bytes from r as numbered parts and returns the
// completed part registry in part number order. A part that exhausts its
// retry budget cancels the remaining transfers and fails the whole upload;
// the caller is expected to abort the session afterwards.
func (u *Uploader) Upload(ctx context.Context, r io.ReaderAt, size int64, signer PartSigner) ([]clipvault.CompletedPart, error) {
	return u.UploadWithAck(ctx, r, size, signer, nil)
}

// UploadWithAck is Upload with a per-part acknowledgement callback, so the
// coordinator's part registry can track the transfer as it happens.
func (u *Uploader) UploadWithAck(ctx context.Context, r io.ReaderAt, size int64, signer PartSigner, ack PartAckFunc) ([]clipvault.CompletedPart, error) {
	plan := Plan(size, u.partSize)
	if len(plan) == 0 {
		return nil, fmt.Errorf("nothing to upload: size %d", size)
	}

	tracker := newProgressTracker(len(plan), size, u.progressFunc)
	completed := make([]clipvault.CompletedPart, len(plan))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)

	for i, part := range plan {
		g.Go(func() error {
			etag, err := u.uploadPart(gctx, r, part, signer, tracker)
			if err != nil {
				return err
			}
			completed[i] = clipvault.CompletedPart{PartNumber: part.Number, ETag: etag}
			tracker.ack(i, part.Size)
			if ack != nil {
				if err := ack(gctx, completed[i]); err != nil {
					return fmt.Errorf("ack part %d: %w", part.Number, err)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(completed, func(i, j int) bool {
		return completed[i].PartNumber < completed[j].PartNumber
	})
	return completed, nil
}

// uploadPart transfers a single part, retrying transient failures with
// exponential backoff. Client errors (4xx) are never retried.
func (u *Uploader) uploadPart(ctx context.Context, r io.ReaderAt, part PartRange, signer PartSigner, tracker *progressTracker) (string, error) {
	idx := int(part.Number - 1)

	var lastErr error
	for attempt := 0; attempt < u.retryAttempts; attempt++ {
		if attempt > 0 {
			backoff := u.retryBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		// A fresh attempt restarts this part's in-flight progress.
		tracker.reset(idx)

		url, err := signer.SignPart(ctx, part.Number)
		if err != nil {
			return "", fmt.Errorf("sign part %d: %w", part.Number, err)
		}

		etag, err := u.putPart(ctx, url, r, part, tracker)
		if err == nil {
			return etag, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		var permErr *permanentError
		if errors.As(err, &permErr) {
			return "", fmt.Errorf("part %d: %w", part.Number, permErr.err)
		}
		lastErr = err
	}

	return "", fmt.Errorf("%w: part %d failed after %d attempts: %w",
		clipvault.ErrRetryExhausted, part.Number, u.retryAttempts, lastErr)
}

func (u *Uploader) putPart(ctx context.Context, url string, r io.ReaderAt, part PartRange, tracker *progressTracker) (string, error) {
	idx := int(part.Number - 1)
	body := &partReader{
		section: io.NewSectionReader(r, part.Offset, part.Size),
		tracker: tracker,
		idx:     idx,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return "", &permanentError{err: err}
	}
	req.ContentLength = part.Size

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("put part %d: %w", part.Number, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return strings.Trim(resp.Header.Get("ETag"), "\""), nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", &permanentError{err: fmt.Errorf("part upload rejected: %s", resp.Status)}
	}
	return "", fmt.Errorf("part upload failed: %s", resp.Status)
}

// permanentError marks failures that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// partReader counts bytes as they leave for the wire.
type partReader struct {
	section *io.SectionReader
	tracker *progressTracker
	idx     int
}

func (pr *partReader) Read(p []byte) (int, error) {
	n, err := pr.section.Read(p)
	if n > 0 {
		pr.tracker.add(pr.idx, int64(n))
	}
	return n, err
}

// progressTracker aggregates per-part counters into one monotonically
// non-decreasing figure. Acked parts contribute their full size; in-flight
// parts contribute partial bytes that reset when the part retries, with the
// reported total clamped so observers never see progress move backwards.
type progressTracker struct {
	mu       sync.Mutex
	perPart  []int64
	acked    []bool
	total    int64
	reported int64
	fn       ProgressFunc
}

func newProgressTracker(parts int, total int64, fn ProgressFunc) *progressTracker {
	return &progressTracker{
		perPart: make([]int64, parts),
		acked:   make([]bool, parts),
		total:   total,
		fn:      fn,
	}
}

func (t *progressTracker) add(idx int, n int64) {
	t.mu.Lock()
	t.perPart[idx] += n
	t.report()
	t.mu.Unlock()
}

func (t *progressTracker) reset(idx int) {
	t.mu.Lock()
	if !t.acked[idx] {
		t.perPart[idx] = 0
	}
	t.mu.Unlock()
}

func (t *progressTracker) ack(idx int, size int64) {
	t.mu.Lock()
	t.acked[idx] = true
	t.perPart[idx] = size
	t.report()
	t.mu.Unlock()
}

// report must be called with the mutex held.
func (t *progressTracker) report() {
	var sum int64
	for _, n := range t.perPart {
		sum += n
	}
	if sum > t.total {
		sum = t.total
	}
	if sum < t.reported {
		return
	}
	t.reported = sum
	if t.fn != nil {
		t.fn(sum, t.total)
	}
}
