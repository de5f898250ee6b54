package worker_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault/pkg/clipvault"
	queuememory "github.com/clipvault/clipvault/pkg/clipvault/queue/memory"
	repomemory "github.com/clipvault/clipvault/pkg/clipvault/repo/memory"
	storagememory "github.com/clipvault/clipvault/pkg/clipvault/storage/memory"
	"github.com/clipvault/clipvault/pkg/clipvault/worker"
)

type fakeProber struct {
	mu       sync.Mutex
	duration float64
	err      error
	calls    int
}

func (p *fakeProber) Duration(ctx context.Context, path string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return 0, p.err
	}
	return p.duration, nil
}

func (p *fakeProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeExtractor struct {
	mu        sync.Mutex
	positions []float64
	failAt    map[int]bool // keyed by 1-based call order
	calls     int
}

func (e *fakeExtractor) ExtractFrame(ctx context.Context, src string, pos float64, width, height int, dst string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.failAt[e.calls] {
		return fmt.Errorf("frame render failed")
	}
	e.positions = append(e.positions, pos)
	return os.WriteFile(dst, []byte("jpeg-bytes"), 0o644)
}

func (e *fakeExtractor) seen() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]float64(nil), e.positions...)
}

type workerFixture struct {
	repo      *repomemory.Repository
	store     *storagememory.Backend
	queue     *queuememory.Queue
	prober    *fakeProber
	extractor *fakeExtractor
	worker    *worker.Worker
	scratch   string
}

func newWorkerFixture(t *testing.T, duration float64, opts ...worker.Option) *workerFixture {
	t.Helper()

	f := &workerFixture{
		repo:      repomemory.New(),
		store:     storagememory.New(),
		queue:     queuememory.New(),
		prober:    &fakeProber{duration: duration},
		extractor: &fakeExtractor{},
		scratch:   t.TempDir(),
	}

	opts = append([]worker.Option{worker.WithScratchDir(f.scratch)}, opts...)
	w, err := worker.New(f.queue, f.repo, f.store, f.prober, f.extractor, opts...)
	require.NoError(t, err)
	f.worker = w
	return f
}

// seedVideo stores an uploaded video with its object bytes and queues its
// processing job.
func (f *workerFixture) seedVideo(t *testing.T) *clipvault.Video {
	t.Helper()
	ctx := context.Background()

	video := &clipvault.Video{
		ID:         uuid.New(),
		OwnerID:    uuid.New(),
		StorageKey: "videos/test/source.mp4",
		FileName:   "source.mp4",
		MimeType:   "video/mp4",
		SizeBytes:  64,
		Status:     clipvault.VideoStatusUploaded,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	require.NoError(t, f.repo.CreateVideo(ctx, video))
	require.NoError(t, f.store.Upload(ctx, video.StorageKey, bytes.NewReader(make([]byte, 64))))
	require.NoError(t, f.queue.Enqueue(ctx, clipvault.ProcessingJob{
		VideoID: video.ID, StorageKey: video.StorageKey,
	}))
	return video
}

func (f *workerFixture) handleOne(t *testing.T) {
	t.Helper()
	handled, err := f.worker.HandleOne(context.Background())
	require.NoError(t, err)
	require.True(t, handled, "expected a deliverable job")
}

func TestThumbnailPositions(t *testing.T) {
	tests := []struct {
		name     string
		duration float64
		n        int
		want     []float64
	}{
		{"four across 30s", 30, 4, []float64{6, 12, 18, 24}},
		{"three across 30s", 30, 3, []float64{7.5, 15, 22.5}},
		{"single position is the midpoint", 10, 1, []float64{5}},
		{"zero count", 30, 0, nil},
		{"zero duration", 0, 4, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := worker.ThumbnailPositions(tt.duration, tt.n)
			assert.Equal(t, tt.want, got)

			// Positions never touch the first or last frame.
			for _, pos := range got {
				assert.Greater(t, pos, 0.0)
				assert.Less(t, pos, tt.duration)
			}
		})
	}
}

func TestProcessPromotesVideoToReady(t *testing.T) {
	f := newWorkerFixture(t, 30, worker.WithThumbnailCount(3))
	ctx := context.Background()
	video := f.seedVideo(t)

	f.handleOne(t)

	got, err := f.repo.GetVideo(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, clipvault.VideoStatusReady, got.Status)
	require.NotNil(t, got.DurationSeconds)
	assert.Equal(t, 30.0, *got.DurationSeconds)
	assert.NotNil(t, got.ReadyAt)

	assert.Equal(t, []float64{7.5, 15, 22.5}, f.extractor.seen())

	thumbs, err := f.repo.ListThumbnails(ctx, video.ID)
	require.NoError(t, err)
	require.Len(t, thumbs, 3)
	for i, thumb := range thumbs {
		assert.Equal(t, i+1, thumb.PositionIndex)
		assert.Equal(t, clipvault.ThumbnailKey(video.ID, i+1), thumb.StorageKey)
		meta, err := f.store.GetObjectMeta(ctx, thumb.StorageKey)
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", meta.ContentType)
	}

	// The delivery is acknowledged and the scratch dir cleaned up.
	assert.Equal(t, 0, f.queue.Len())
	_, err = os.Stat(filepath.Join(f.scratch, video.ID.String()))
	assert.True(t, os.IsNotExist(err))
}

func TestDuplicateDeliveryDoesNotDuplicateThumbnails(t *testing.T) {
	f := newWorkerFixture(t, 20, worker.WithThumbnailCount(4))
	ctx := context.Background()
	video := f.seedVideo(t)

	// A second delivery of the same job, as an at-least-once broker may
	// produce.
	require.NoError(t, f.queue.Enqueue(ctx, clipvault.ProcessingJob{
		VideoID: video.ID, StorageKey: video.StorageKey,
	}))

	f.handleOne(t)
	f.handleOne(t)

	thumbs, err := f.repo.ListThumbnails(ctx, video.ID)
	require.NoError(t, err)
	assert.Len(t, thumbs, 4)

	got, err := f.repo.GetVideo(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, clipvault.VideoStatusReady, got.Status)
	assert.Equal(t, 0, f.queue.Len())

	// The ready fast path never re-probes.
	assert.Equal(t, 1, f.prober.callCount())
}

func TestUnprocessableMediaFailsWithoutRetry(t *testing.T) {
	f := newWorkerFixture(t, 0)
	ctx := context.Background()
	video := f.seedVideo(t)
	f.prober.err = fmt.Errorf("moov atom not found")

	f.handleOne(t)

	got, err := f.repo.GetVideo(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, clipvault.VideoStatusFailed, got.Status)
	assert.NotEmpty(t, got.FailureReason)

	// The delivery was discarded, not left for redelivery.
	assert.Equal(t, 0, f.queue.Len())
	assert.Equal(t, 1, f.prober.callCount())
}

func TestTransientFailureLeavesDeliveryForRedelivery(t *testing.T) {
	f := newWorkerFixture(t, 30)
	ctx := context.Background()
	video := f.seedVideo(t)

	// Remove the object so the download fails.
	require.NoError(t, f.store.Delete(ctx, video.StorageKey))

	f.handleOne(t)

	got, err := f.repo.GetVideo(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, clipvault.VideoStatusProcessing, got.Status)

	// The un-acked delivery stays with the broker for redelivery.
	assert.Equal(t, 1, f.queue.Len())
}

func TestRetryBudgetExhaustionFailsVideo(t *testing.T) {
	f := newWorkerFixture(t, 30, worker.WithMaxAttempts(1))
	ctx := context.Background()
	video := f.seedVideo(t)

	require.NoError(t, f.store.Delete(ctx, video.StorageKey))

	f.handleOne(t)

	got, err := f.repo.GetVideo(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, clipvault.VideoStatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "retry budget exhausted")
	assert.Equal(t, 0, f.queue.Len())
}

func TestSingleFrameFailureDoesNotFailVideo(t *testing.T) {
	f := newWorkerFixture(t, 30, worker.WithThumbnailCount(3))
	ctx := context.Background()
	video := f.seedVideo(t)
	f.extractor.failAt = map[int]bool{2: true}

	f.handleOne(t)

	got, err := f.repo.GetVideo(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, clipvault.VideoStatusReady, got.Status)

	thumbs, err := f.repo.ListThumbnails(ctx, video.ID)
	require.NoError(t, err)
	assert.Len(t, thumbs, 2)
}

func TestJobForUnknownVideoIsDiscarded(t *testing.T) {
	f := newWorkerFixture(t, 30)
	ctx := context.Background()

	require.NoError(t, f.queue.Enqueue(ctx, clipvault.ProcessingJob{
		VideoID: uuid.New(), StorageKey: "videos/missing",
	}))

	f.handleOne(t)
	assert.Equal(t, 0, f.queue.Len())
	assert.Equal(t, 0, f.prober.callCount())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f := newWorkerFixture(t, 30, worker.WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
