// Package memory provides a bounded in-process job queue.
package memory

import (
	"context"
	"fmt"
)

// Queue is a fixed-depth FIFO of job ids backed by a channel. Enqueue
// fails fast when the queue is full; TryDequeue never blocks.
type Queue struct {
	ids chan string
}

// NewQueue creates a queue holding at most depth queued jobs.
func NewQueue(depth int) *Queue {
	if depth <= 0 {
		depth = 64
	}
	return &Queue{ids: make(chan string, depth)}
}

// Enqueue adds a job id, rejecting when the queue is at capacity.
func (q *Queue) Enqueue(ctx context.Context, jobID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ids <- jobID:
		return nil
	default:
		return fmt.Errorf("queue full (depth %d)", cap(q.ids))
	}
}

// TryDequeue pops the oldest job id. The second return is false when the
// queue is empty.
func (q *Queue) TryDequeue(ctx context.Context) (string, bool, error) {
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case id := <-q.ids:
		return id, true, nil
	default:
		return "", false, nil
	}
}
