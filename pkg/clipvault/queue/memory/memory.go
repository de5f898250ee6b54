// Package memory implements the clipvault.JobQueue interface in process.
// It mirrors the broker contract the workers rely on: at-least-once delivery
// with a visibility timeout, per-delivery attempt counts, exponential backoff
// between redeliveries, and a dead-letter bucket once the attempt budget is
// spent.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/clipvault/clipvault/pkg/clipvault"
	"github.com/google/uuid"
)

const (
	// DefaultMaxAttempts is the retry budget before a job dead-letters.
	DefaultMaxAttempts = 5

	// DefaultBackoffBase is the first redelivery delay; it doubles each
	// attempt.
	DefaultBackoffBase = 2 * time.Second

	// DefaultVisibilityTimeout is how long a claimed delivery stays hidden
	// before an un-acked message becomes reclaimable.
	DefaultVisibilityTimeout = 30 * time.Second
)

type delivery struct {
	job        clipvault.ProcessingJob
	receipt    string
	attempts   int
	notVisible bool
	// redeliverAt is the visibility deadline while the delivery is claimed,
	// or the backoff deadline after a nack.
	redeliverAt time.Time
}

// Queue is an in-memory implementation of the clipvault.JobQueue interface
type Queue struct {
	mu          sync.Mutex
	deliveries  []*delivery
	deadLetters []clipvault.ProcessingJob
	maxAttempts int
	backoffBase time.Duration
	visibility  time.Duration
	clock       func() time.Time
}

// Option configures the queue
type Option func(*Queue)

// WithMaxAttempts overrides the retry budget
func WithMaxAttempts(n int) Option {
	return func(q *Queue) { q.maxAttempts = n }
}

// WithBackoffBase overrides the first redelivery delay
func WithBackoffBase(d time.Duration) Option {
	return func(q *Queue) { q.backoffBase = d }
}

// WithVisibilityTimeout overrides how long a claimed delivery stays hidden
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *Queue) { q.visibility = d }
}

// WithClock overrides time for tests
func WithClock(clock func() time.Time) Option {
	return func(q *Queue) { q.clock = clock }
}

// New creates a new in-memory job queue
func New(opts ...Option) *Queue {
	q := &Queue{
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
		visibility:  DefaultVisibilityTimeout,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue posts a job.
func (q *Queue) Enqueue(ctx context.Context, job clipvault.ProcessingJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.deliveries = append(q.deliveries, &delivery{job: job})
	return nil
}

// Receive claims the next visible job. Returns (nil, nil) when nothing is
// deliverable right now. Claimed deliveries whose visibility window lapsed
// without an ack are reclaimed first, the way a broker would after a worker
// crash; a reclaim that finds the attempt budget spent dead-letters instead.
func (q *Queue) Receive(ctx context.Context) (*clipvault.JobMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()
	i := 0
	for i < len(q.deliveries) {
		d := q.deliveries[i]
		if d.notVisible && !now.Before(d.redeliverAt) {
			if d.attempts >= q.maxAttempts {
				q.deadLetters = append(q.deadLetters, d.job)
				q.deliveries = append(q.deliveries[:i], q.deliveries[i+1:]...)
				continue
			}
			d.notVisible = false
		}
		if d.notVisible || now.Before(d.redeliverAt) {
			i++
			continue
		}
		d.attempts++
		d.notVisible = true
		d.redeliverAt = now.Add(q.visibility)
		d.receipt = uuid.NewString()
		return &clipvault.JobMessage{
			Job:           d.job,
			ReceiptHandle: d.receipt,
			Attempt:       d.attempts,
		}, nil
	}
	return nil, nil
}

// Ack removes an acknowledged delivery.
func (q *Queue) Ack(ctx context.Context, msg *clipvault.JobMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.remove(msg.ReceiptHandle)
	return nil
}

// Reject removes a delivery without retry.
func (q *Queue) Reject(ctx context.Context, msg *clipvault.JobMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.remove(msg.ReceiptHandle)
	return nil
}

// Nack returns an un-acked delivery to the queue, as a visibility timeout
// expiry would. The next delivery happens after the exponential backoff for
// the attempt; once the budget is spent the job moves to the dead-letter
// bucket instead.
func (q *Queue) Nack(msg *clipvault.JobMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, d := range q.deliveries {
		if d.receipt != msg.ReceiptHandle {
			continue
		}
		if d.attempts >= q.maxAttempts {
			q.deadLetters = append(q.deadLetters, d.job)
			q.deliveries = append(q.deliveries[:i], q.deliveries[i+1:]...)
			return
		}
		backoff := q.backoffBase << (d.attempts - 1)
		d.notVisible = false
		d.redeliverAt = q.clock().Add(backoff)
		return
	}
}

// DeadLetters returns jobs that exhausted their retry budget.
func (q *Queue) DeadLetters() []clipvault.ProcessingJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]clipvault.ProcessingJob, len(q.deadLetters))
	copy(out, q.deadLetters)
	return out
}

// Len reports the number of queued deliveries, visible or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.deliveries)
}

func (q *Queue) remove(receipt string) {
	for i, d := range q.deliveries {
		if d.receipt == receipt {
			q.deliveries = append(q.deliveries[:i], q.deliveries[i+1:]...)
			return
		}
	}
}
