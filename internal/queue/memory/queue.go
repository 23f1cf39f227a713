// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/autorunner/internal/automation"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan automation.TaskRef
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan automation.TaskRef, capacity),
	}
}

// Enqueue pushes a task ref into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, ref automation.TaskRef) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- ref:
		return nil
	}
}

// Dequeue pops the next task ref, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (automation.TaskRef, error) {
	select {
	case <-ctx.Done():
		return automation.TaskRef{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case ref, ok := <-q.ch:
		if !ok {
			return automation.TaskRef{}, errors.New("queue closed")
		}
		return ref, nil
	}
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
