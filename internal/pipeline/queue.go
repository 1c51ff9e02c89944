package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/couchcryptid/incident-map-service/internal/domain"
	"github.com/couchcryptid/incident-map-service/internal/observability"
)

var (
	// ErrQueueFull is returned by Offer when the queue has no free slot.
	ErrQueueFull = errors.New("ingest queue is full")
	// ErrQueueClosed is returned once the queue is closed and drained.
	ErrQueueClosed = errors.New("ingest queue is closed")
)

// Queue is a bounded in-memory Source for pushed channel messages. A full
// queue rejects new messages rather than blocking the sender.
type Queue struct {
	mu      sync.RWMutex
	ch      chan domain.RawMessage
	closed  bool
	metrics *observability.Metrics
}

// NewQueue creates a queue holding at most size messages.
func NewQueue(size int, metrics *observability.Metrics) *Queue {
	return &Queue{
		ch:      make(chan domain.RawMessage, size),
		metrics: metrics,
	}
}

// Offer enqueues msg without blocking.
func (q *Queue) Offer(msg domain.RawMessage) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		q.metrics.QueueDropped.Inc()
		return ErrQueueFull
	}
}

// Next blocks until a message is available, ctx ends, or the queue is
// closed and empty.
func (q *Queue) Next(ctx context.Context) (domain.RawMessage, error) {
	select {
	case <-ctx.Done():
		return domain.RawMessage{}, ctx.Err()
	case msg, ok := <-q.ch:
		if !ok {
			return domain.RawMessage{}, ErrQueueClosed
		}
		return msg, nil
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting messages. Queued messages remain readable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
