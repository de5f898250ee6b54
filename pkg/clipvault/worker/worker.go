// Package worker runs the background processing pipeline: it drains the job
// queue, probes uploaded videos, extracts thumbnails and promotes videos to
// the ready state. Failures are classified as transient (left for broker
// redelivery) or fatal (video marked failed, job discarded).
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clipvault/clipvault/pkg/clipvault"
)

const (
	// DefaultThumbnailCount is the number of evenly spaced thumbnails
	// extracted per video.
	DefaultThumbnailCount = 4

	// DefaultThumbnailWidth and DefaultThumbnailHeight set the thumbnail
	// resolution.
	DefaultThumbnailWidth  = 320
	DefaultThumbnailHeight = 180

	// DefaultMaxAttempts is the per-job retry budget. Once a job has been
	// delivered this many times without success the video is marked failed
	// and the delivery is left for the broker's dead-letter handling.
	DefaultMaxAttempts = 5

	// DefaultConcurrency bounds the number of jobs processed in parallel.
	DefaultConcurrency = 2

	defaultPollInterval = time.Second
)

// errSkip marks a delivery that should be acknowledged without doing any
// work, such as a job for a video that no longer exists.
var errSkip = errors.New("skip job")

// Worker consumes processing jobs and drives videos to a terminal state.
type Worker struct {
	queue     clipvault.JobQueue
	repo      clipvault.Repository
	store     clipvault.BlobStore
	prober    Prober
	extractor FrameExtractor
	events    clipvault.EventSink
	log       *slog.Logger

	scratchDir   string
	thumbCount   int
	thumbWidth   int
	thumbHeight  int
	maxAttempts  int
	concurrency  int
	pollInterval time.Duration
}

// Option configures a Worker.
type Option func(*Worker)

// WithEventSink sets the event sink notified on status changes.
func WithEventSink(sink clipvault.EventSink) Option {
	return func(w *Worker) { w.events = sink }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(w *Worker) { w.log = log }
}

// WithScratchDir sets the directory used for per-job temporary files.
func WithScratchDir(dir string) Option {
	return func(w *Worker) { w.scratchDir = dir }
}

// WithThumbnailCount sets how many thumbnails are extracted per video.
func WithThumbnailCount(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.thumbCount = n
		}
	}
}

// WithThumbnailSize sets the thumbnail resolution.
func WithThumbnailSize(width, height int) Option {
	return func(w *Worker) {
		if width > 0 && height > 0 {
			w.thumbWidth = width
			w.thumbHeight = height
		}
	}
}

// WithMaxAttempts sets the per-job retry budget.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithConcurrency bounds the number of jobs processed in parallel.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithPollInterval sets the idle delay between empty receives.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// New creates a Worker. Queue, repository, blob store, prober and extractor
// are required.
func New(queue clipvault.JobQueue, repo clipvault.Repository, store clipvault.BlobStore, prober Prober, extractor FrameExtractor, opts ...Option) (*Worker, error) {
	if queue == nil || repo == nil || store == nil {
		return nil, fmt.Errorf("worker: queue, repository and blob store are required")
	}
	if prober == nil || extractor == nil {
		return nil, fmt.Errorf("worker: prober and frame extractor are required")
	}

	w := &Worker{
		queue:        queue,
		repo:         repo,
		store:        store,
		prober:       prober,
		extractor:    extractor,
		events:       clipvault.NewNoopEventSink(),
		log:          slog.Default(),
		scratchDir:   os.TempDir(),
		thumbCount:   DefaultThumbnailCount,
		thumbWidth:   DefaultThumbnailWidth,
		thumbHeight:  DefaultThumbnailHeight,
		maxAttempts:  DefaultMaxAttempts,
		concurrency:  DefaultConcurrency,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Run receives and processes jobs until ctx is canceled. In-flight jobs are
// allowed to finish before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started",
		"concurrency", w.concurrency,
		"thumbnail_count", w.thumbCount,
		"max_attempts", w.maxAttempts)

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	for {
		if err := ctx.Err(); err != nil {
			break
		}

		msg, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.log.Error("receive failed", "error", err)
			w.sleep(ctx, w.pollInterval)
			continue
		}
		if msg == nil {
			w.sleep(ctx, w.pollInterval)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// Leave the delivery unacknowledged so the broker
			// redelivers it after shutdown.
			wg.Wait()
			w.log.Info("worker stopped")
			return ctx.Err()
		}

		wg.Add(1)
		go func(msg *clipvault.JobMessage) {
			defer wg.Done()
			defer func() { <-sem }()
			w.handle(ctx, msg)
		}(msg)
	}

	wg.Wait()
	w.log.Info("worker stopped")
	return ctx.Err()
}

// HandleOne receives at most one job and processes it. It is the synchronous
// building block behind Run and is handy for draining a queue in tests.
func (w *Worker) HandleOne(ctx context.Context) (bool, error) {
	msg, err := w.queue.Receive(ctx)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}
	w.handle(ctx, msg)
	return true, nil
}

// handle runs one delivery through process and settles it with the queue
// according to the failure class.
func (w *Worker) handle(ctx context.Context, msg *clipvault.JobMessage) {
	log := w.log.With("video_id", msg.Job.VideoID, "attempt", msg.Attempt)

	err := w.process(ctx, msg.Job)
	switch {
	case err == nil:
		if ackErr := w.queue.Ack(ctx, msg); ackErr != nil {
			log.Error("ack failed", "error", ackErr)
		}

	case errors.Is(err, errSkip):
		log.Warn("discarding job", "reason", err)
		if ackErr := w.queue.Ack(ctx, msg); ackErr != nil {
			log.Error("ack failed", "error", ackErr)
		}

	case clipvault.IsFatalMedia(err):
		// The file itself cannot be processed. Retrying cannot help,
		// so the video is failed and the delivery discarded.
		log.Error("unprocessable media", "error", err)
		w.failVideo(ctx, msg.Job.VideoID, err)
		if rejErr := w.queue.Reject(ctx, msg); rejErr != nil {
			log.Error("reject failed", "error", rejErr)
		}

	case msg.Attempt >= w.maxAttempts:
		// Retry budget exhausted. The video must land in a terminal
		// state rather than sit in processing forever.
		log.Error("retry budget exhausted", "error", err)
		w.failVideo(ctx, msg.Job.VideoID, fmt.Errorf("%w: %v", clipvault.ErrRetryExhausted, err))
		if rejErr := w.queue.Reject(ctx, msg); rejErr != nil {
			log.Error("reject failed", "error", rejErr)
		}

	default:
		// Transient. Leaving the delivery unacknowledged lets the
		// broker redeliver it after the visibility timeout.
		log.Warn("processing failed, leaving for redelivery", "error", err)
	}
}

// process performs the actual work for one job: download, probe, extract
// thumbnails, promote to ready. Errors wrapping ErrUnprocessableMedia are
// fatal; everything else is treated as retryable.
func (w *Worker) process(ctx context.Context, job clipvault.ProcessingJob) error {
	video, err := w.repo.GetVideo(ctx, job.VideoID)
	if err != nil {
		if errors.Is(err, clipvault.ErrVideoNotFound) {
			return fmt.Errorf("%w: video %s not found", errSkip, job.VideoID)
		}
		return fmt.Errorf("load video: %w", err)
	}

	// Duplicate delivery of an already finished job.
	if video.Status == clipvault.VideoStatusReady {
		return nil
	}
	if video.Status == clipvault.VideoStatusFailed {
		return fmt.Errorf("%w: video %s already failed", errSkip, job.VideoID)
	}

	if video.Status != clipvault.VideoStatusProcessing {
		if err := w.transition(ctx, video, clipvault.VideoStatusProcessing); err != nil {
			return fmt.Errorf("mark processing: %w", err)
		}
	}

	scratch := filepath.Join(w.scratchDir, video.ID.String())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	src := filepath.Join(scratch, "source")
	if err := w.download(ctx, job.StorageKey, src); err != nil {
		return fmt.Errorf("download source: %w", err)
	}

	duration, err := w.prober.Duration(ctx, src)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("probe interrupted: %w", ctx.Err())
		}
		return fmt.Errorf("%w: %v", clipvault.ErrUnprocessableMedia, err)
	}
	if duration <= 0 {
		return fmt.Errorf("%w: non-positive duration %f", clipvault.ErrUnprocessableMedia, duration)
	}

	extracted := 0
	for k, pos := range ThumbnailPositions(duration, w.thumbCount) {
		index := k + 1
		if err := w.extractAndStore(ctx, video, src, scratch, index, pos); err != nil {
			// A single bad frame does not fail the video; the
			// remaining positions are still attempted.
			w.log.Warn("thumbnail extraction failed",
				"video_id", video.ID, "position_index", index, "error", err)
			continue
		}
		extracted++
	}

	video.DurationSeconds = &duration
	if err := w.transition(ctx, video, clipvault.VideoStatusReady); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}

	w.log.Info("video processed",
		"video_id", video.ID,
		"duration_seconds", duration,
		"thumbnails", extracted)
	return nil
}

// extractAndStore renders one thumbnail, uploads it under its deterministic
// key and upserts the metadata row. The deterministic key and the unique
// (video, position) constraint make duplicate deliveries idempotent.
func (w *Worker) extractAndStore(ctx context.Context, video *clipvault.Video, src, scratch string, index int, pos float64) error {
	framePath := filepath.Join(scratch, fmt.Sprintf("thumb-%d.jpg", index))
	if err := w.extractor.ExtractFrame(ctx, src, pos, w.thumbWidth, w.thumbHeight, framePath); err != nil {
		return err
	}

	frame, err := os.Open(framePath)
	if err != nil {
		return fmt.Errorf("open frame: %w", err)
	}
	defer frame.Close()

	key := clipvault.ThumbnailKey(video.ID, index)
	if err := w.store.UploadWithParams(ctx, frame, clipvault.UploadParams{
		ObjectKey: key,
		MimeType:  "image/jpeg",
	}); err != nil {
		return fmt.Errorf("upload thumbnail: %w", err)
	}

	thumb := &clipvault.Thumbnail{
		ID:              uuid.New(),
		VideoID:         video.ID,
		StorageKey:      key,
		PositionIndex:   index,
		PositionSeconds: pos,
		Width:           w.thumbWidth,
		Height:          w.thumbHeight,
		CreatedAt:       time.Now().UTC(),
	}
	if err := w.repo.UpsertThumbnail(ctx, thumb); err != nil {
		return fmt.Errorf("save thumbnail: %w", err)
	}

	if err := w.events.ThumbnailCreated(ctx, thumb); err != nil {
		w.log.Error("thumbnail event", "video_id", video.ID, "error", err)
	}
	return nil
}

func (w *Worker) download(ctx context.Context, storageKey, dst string) error {
	rc, err := w.store.Download(ctx, storageKey)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		return err
	}
	return f.Close()
}

func (w *Worker) transition(ctx context.Context, video *clipvault.Video, next clipvault.VideoStatus) error {
	if !video.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", clipvault.ErrInvalidStatus, video.Status, next)
	}

	old := video.Status
	video.Status = next
	video.UpdatedAt = time.Now().UTC()
	if next == clipvault.VideoStatusReady {
		now := video.UpdatedAt
		video.ReadyAt = &now
	}
	if err := w.repo.UpdateVideo(ctx, video); err != nil {
		video.Status = old
		return err
	}

	if err := w.events.VideoStatusChanged(ctx, video); err != nil {
		w.log.Error("video status event", "video_id", video.ID, "error", err)
	}
	return nil
}

func (w *Worker) failVideo(ctx context.Context, videoID uuid.UUID, cause error) {
	video, err := w.repo.GetVideo(ctx, videoID)
	if err != nil {
		w.log.Error("load video for failure", "video_id", videoID, "error", err)
		return
	}
	if video.Status == clipvault.VideoStatusFailed || video.Status == clipvault.VideoStatusReady {
		return
	}

	video.FailureReason = cause.Error()
	if err := w.transition(ctx, video, clipvault.VideoStatusFailed); err != nil {
		w.log.Error("mark video failed", "video_id", videoID, "error", err)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// ThumbnailPositions returns n evenly spaced positions strictly inside
// (0, duration): duration * k / (n+1) for k in 1..n. Neither the first nor
// the last frame of the video is ever chosen.
func ThumbnailPositions(duration float64, n int) []float64 {
	if n <= 0 || duration <= 0 {
		return nil
	}
	positions := make([]float64, n)
	for k := 1; k <= n; k++ {
		positions[k-1] = duration * float64(k) / float64(n+1)
	}
	return positions
}
