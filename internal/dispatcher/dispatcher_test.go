// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/autorunner/internal/automation"
	"github.com/JakeFAU/autorunner/internal/worker"
)

type nopExecutor struct{}

func (nopExecutor) Execute(context.Context, string) error { return nil }

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(queue, nopExecutor{}, worker.Config{}, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("queue full")
	dispatch := New(&failingQueue{err: wantErr}, nil)

	err := dispatch.Enqueue(context.Background(), automation.TaskRef{TaskID: "t1"})
	if err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped queue error, got %v", err)
	}
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, automation.TaskRef) error { return nil }

func (q *blockingQueue) Dequeue(ctx context.Context) (automation.TaskRef, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return automation.TaskRef{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
}

type failingQueue struct {
	err error
}

func (q *failingQueue) Enqueue(context.Context, automation.TaskRef) error { return q.err }

func (q *failingQueue) Dequeue(ctx context.Context) (automation.TaskRef, error) {
	<-ctx.Done()
	return automation.TaskRef{}, ctx.Err()
}
