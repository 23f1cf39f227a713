// Package worker implements the task execution loop.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/autorunner/internal/automation"
	"github.com/JakeFAU/autorunner/internal/metrics"
)

// Executor settles one task end to end. A nil return means the task
// reached a final state (or a deliberate halt) and must not be redelivered.
type Executor interface {
	Execute(ctx context.Context, taskID string) error
}

// Config controls Worker behavior.
type Config struct {
	// MaxAttempts bounds deliveries per task submission, first try included.
	MaxAttempts int
	// RetryBackoff is the base delay before a redelivery; it doubles per
	// attempt.
	RetryBackoff time.Duration
}

// Worker consumes task refs and runs them through the executor.
type Worker struct {
	queue    automation.Queue
	executor Executor
	cfg      Config
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration)
}

// New constructs a Worker.
func New(queue automation.Queue, executor Executor, cfg Config, logger *zap.Logger) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		executor: executor,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Run blocks, consuming task refs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		ref, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task",
			zap.String("task_id", ref.TaskID),
			zap.Int("attempt", ref.Attempt))
		w.process(ctx, ref)
	}
}

func (w *Worker) process(ctx context.Context, ref automation.TaskRef) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	err := w.executor.Execute(ctx, ref.TaskID)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		// Shutdown mid-task; the task was left RUNNING and will be reset
		// on the next delivery.
		w.logger.Warn("task interrupted by shutdown", zap.String("task_id", ref.TaskID))
		return
	}
	w.redeliver(ctx, ref, err)
}

// redeliver requeues a failed attempt with exponential backoff, dropping
// the submission once MaxAttempts is exhausted.
func (w *Worker) redeliver(ctx context.Context, ref automation.TaskRef, cause error) {
	next := ref
	next.Attempt++
	if next.Attempt >= w.cfg.MaxAttempts {
		w.logger.Error("task attempts exhausted",
			zap.String("task_id", ref.TaskID),
			zap.Int("attempts", next.Attempt),
			zap.Error(cause))
		return
	}

	delay := Backoff(w.cfg.RetryBackoff, ref.Attempt)
	w.logger.Warn("task attempt failed, redelivering",
		zap.String("task_id", ref.TaskID),
		zap.Int("attempt", ref.Attempt),
		zap.Duration("backoff", delay),
		zap.Error(cause))

	w.sleep(ctx, delay)
	if ctx.Err() != nil {
		return
	}
	if err := w.queue.Enqueue(ctx, next); err != nil {
		w.logger.Error("redelivery enqueue failed",
			zap.String("task_id", ref.TaskID),
			zap.Error(err))
	}
}

// Backoff returns base doubled attempt times, capped at five minutes.
func Backoff(base time.Duration, attempt int) time.Duration {
	const maxDelay = 5 * time.Minute
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
