package transfer_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault/pkg/clipvault"
	"github.com/clipvault/clipvault/pkg/clipvault/transfer"
)

// partServer records part uploads and can be told to fail specific attempts.
type partServer struct {
	mu       sync.Mutex
	parts    map[int][]byte
	attempts map[int]int
	respond  func(partNumber, attempt int) int // status code; 0 means 200
}

func newPartServer() *partServer {
	return &partServer{
		parts:    make(map[int][]byte),
		attempts: make(map[int]int),
	}
}

func (s *partServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		partNumber, err := strconv.Atoi(r.URL.Query().Get("part"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		s.mu.Lock()
		s.attempts[partNumber]++
		attempt := s.attempts[partNumber]
		status := 0
		if s.respond != nil {
			status = s.respond(partNumber, attempt)
		}
		if status == 0 {
			s.parts[partNumber] = body
		}
		s.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("ETag", fmt.Sprintf("\"etag-%d\"", partNumber))
		w.WriteHeader(http.StatusOK)
	})
}

func (s *partServer) attemptCount(partNumber int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[partNumber]
}

func (s *partServer) assembled(n int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for i := 1; i <= n; i++ {
		out = append(out, s.parts[i]...)
	}
	return out
}

func signerFor(serverURL string) transfer.PartSigner {
	return transfer.PartSignerFunc(func(ctx context.Context, partNumber int32) (string, error) {
		return fmt.Sprintf("%s/?part=%d", serverURL, partNumber), nil
	})
}

func testData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestUploadTransfersAllParts(t *testing.T) {
	server := newPartServer()
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	data := testData(10*1024 + 37)
	u := transfer.NewUploader(transfer.WithPartSize(4 * 1024))

	completed, err := u.Upload(context.Background(), bytes.NewReader(data), int64(len(data)), signerFor(ts.URL))
	require.NoError(t, err)
	require.Len(t, completed, 3)

	for i, part := range completed {
		assert.Equal(t, int32(i+1), part.PartNumber)
		assert.Equal(t, fmt.Sprintf("etag-%d", i+1), part.ETag)
	}
	assert.Equal(t, data, server.assembled(3))
}

func TestUploadWithAckReportsEachPart(t *testing.T) {
	server := newPartServer()
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	data := testData(3 * 1024)
	u := transfer.NewUploader(transfer.WithPartSize(1024))

	var mu sync.Mutex
	acked := make(map[int32]string)
	ack := transfer.PartAckFunc(func(ctx context.Context, part clipvault.CompletedPart) error {
		mu.Lock()
		defer mu.Unlock()
		acked[part.PartNumber] = part.ETag
		return nil
	})

	completed, err := u.UploadWithAck(context.Background(), bytes.NewReader(data), int64(len(data)), signerFor(ts.URL), ack)
	require.NoError(t, err)
	require.Len(t, completed, 3)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, acked, 3)
	for n := int32(1); n <= 3; n++ {
		assert.Equal(t, fmt.Sprintf("etag-%d", n), acked[n])
	}
}

func TestUploadWithAckFailureFailsTransfer(t *testing.T) {
	server := newPartServer()
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	data := testData(2 * 1024)
	u := transfer.NewUploader(transfer.WithPartSize(1024))

	ack := transfer.PartAckFunc(func(ctx context.Context, part clipvault.CompletedPart) error {
		if part.PartNumber == 2 {
			return fmt.Errorf("registry unavailable")
		}
		return nil
	})

	_, err := u.UploadWithAck(context.Background(), bytes.NewReader(data), int64(len(data)), signerFor(ts.URL), ack)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ack part 2")
}

func TestUploadRetriesTransientFailure(t *testing.T) {
	server := newPartServer()
	server.respond = func(partNumber, attempt int) int {
		if partNumber == 2 && attempt == 1 {
			return http.StatusInternalServerError
		}
		return 0
	}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	data := testData(3 * 1024)
	u := transfer.NewUploader(
		transfer.WithPartSize(1024),
		transfer.WithRetry(3, time.Millisecond),
	)

	completed, err := u.Upload(context.Background(), bytes.NewReader(data), int64(len(data)), signerFor(ts.URL))
	require.NoError(t, err)
	require.Len(t, completed, 3)
	assert.Equal(t, 2, server.attemptCount(2))
	assert.Equal(t, data, server.assembled(3))
}

func TestUploadDoesNotRetryClientError(t *testing.T) {
	server := newPartServer()
	server.respond = func(partNumber, attempt int) int {
		return http.StatusForbidden
	}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	data := testData(1024)
	u := transfer.NewUploader(
		transfer.WithPartSize(1024),
		transfer.WithRetry(4, time.Millisecond),
	)

	_, err := u.Upload(context.Background(), bytes.NewReader(data), int64(len(data)), signerFor(ts.URL))
	require.Error(t, err)
	assert.NotErrorIs(t, err, clipvault.ErrRetryExhausted)
	assert.Equal(t, 1, server.attemptCount(1))
}

func TestUploadRetryBudgetExhausted(t *testing.T) {
	server := newPartServer()
	server.respond = func(partNumber, attempt int) int {
		return http.StatusInternalServerError
	}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	data := testData(512)
	u := transfer.NewUploader(
		transfer.WithPartSize(1024),
		transfer.WithRetry(2, time.Millisecond),
	)

	_, err := u.Upload(context.Background(), bytes.NewReader(data), int64(len(data)), signerFor(ts.URL))
	require.Error(t, err)
	assert.ErrorIs(t, err, clipvault.ErrRetryExhausted)
	assert.Equal(t, 2, server.attemptCount(1))
}

func TestUploadProgressIsMonotonic(t *testing.T) {
	server := newPartServer()
	server.respond = func(partNumber, attempt int) int {
		// Force a retry in the middle so in-flight progress resets.
		if partNumber == 2 && attempt == 1 {
			return http.StatusInternalServerError
		}
		return 0
	}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	data := testData(8 * 1024)

	var mu sync.Mutex
	var reports []int64
	u := transfer.NewUploader(
		transfer.WithPartSize(2*1024),
		transfer.WithRetry(3, time.Millisecond),
		transfer.WithConcurrency(2),
		transfer.WithProgress(func(bytesSent, totalBytes int64) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, int64(len(data)), totalBytes)
			reports = append(reports, bytesSent)
		}),
	)

	_, err := u.Upload(context.Background(), bytes.NewReader(data), int64(len(data)), signerFor(ts.URL))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, reports)
	for i := 1; i < len(reports); i++ {
		assert.GreaterOrEqual(t, reports[i], reports[i-1], "progress went backwards at report %d", i)
	}
	assert.Equal(t, int64(len(data)), reports[len(reports)-1])
}

func TestUploadEmptyFileFails(t *testing.T) {
	u := transfer.NewUploader()
	_, err := u.Upload(context.Background(), bytes.NewReader(nil), 0, signerFor("http://unused"))
	assert.Error(t, err)
}
