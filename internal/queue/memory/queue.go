// Package memory provides the in-memory job queue used for single-node
// deployments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan gitmeta.QueueItem
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan gitmeta.QueueItem, capacity),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item gitmeta.QueueItem) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (gitmeta.QueueItem, error) {
	select {
	case <-ctx.Done():
		return gitmeta.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return gitmeta.QueueItem{}, errors.New("queue closed")
		}
		return item, nil
	}
}

// Len reports how many jobs are waiting. The value is advisory; items can
// be consumed between the call and any decision based on it.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
