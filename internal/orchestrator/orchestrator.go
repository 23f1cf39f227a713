// Package orchestrator owns end-to-end execution of automation tasks.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/autorunner/internal/alerts"
	"github.com/JakeFAU/autorunner/internal/automation"
	"github.com/JakeFAU/autorunner/internal/detector"
	"github.com/JakeFAU/autorunner/internal/frontier"
	"github.com/JakeFAU/autorunner/internal/metrics"
	"github.com/JakeFAU/autorunner/internal/monitor"
	"github.com/JakeFAU/autorunner/internal/stats"
)

// Config controls Orchestrator behavior.
type Config struct {
	Detector detector.Config
	// ShotPrefix is the blob path prefix for challenge screenshots.
	ShotPrefix string
	// DefaultNavTimeout applies when a task's browser config has none.
	DefaultNavTimeout time.Duration
}

// Orchestrator executes one task at a time per call. A single instance is
// shared by all workers; per-run state lives on the stack of Execute.
type Orchestrator struct {
	store    automation.TaskStore
	drivers  automation.DriverFactory
	queue    automation.Queue
	shots    automation.BlobStore
	monitor  *monitor.Table
	alerts   *alerts.Engine
	sampler  stats.Sampler
	clock    automation.Clock
	ids      automation.IDGenerator
	cfg      Config
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	sessions sync.Map // task id -> context.CancelCauseFunc
}

// New constructs an Orchestrator.
func New(
	store automation.TaskStore,
	drivers automation.DriverFactory,
	queue automation.Queue,
	shots automation.BlobStore,
	mon *monitor.Table,
	engine *alerts.Engine,
	sampler stats.Sampler,
	clock automation.Clock,
	ids automation.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Detector.Threshold == 0 {
		cfg.Detector = detector.DefaultConfig()
	}
	if cfg.ShotPrefix == "" {
		cfg.ShotPrefix = "challenges"
	}
	if cfg.DefaultNavTimeout <= 0 {
		cfg.DefaultNavTimeout = 30 * time.Second
	}
	return &Orchestrator{
		store:   store,
		drivers: drivers,
		queue:   queue,
		shots:   shots,
		monitor: mon,
		alerts:  engine,
		sampler: sampler,
		clock:   clock,
		ids:     ids,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Start submits a PENDING task to the execution queue.
func (o *Orchestrator) Start(ctx context.Context, taskID string) error {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != automation.StatusPending {
		return &automation.InvalidTransitionError{TaskID: taskID, From: task.Status, To: automation.StatusRunning}
	}
	return o.enqueue(ctx, taskID)
}

// Restart moves a FAILED, CAPTCHA_DETECTED or PAUSED task back to PENDING
// and resubmits it. The restart edge clears started_at, finished_at and
// error_message; alert dedup state for the task is reopened so rules can
// fire again on the fresh run.
func (o *Orchestrator) Restart(ctx context.Context, taskID string) error {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := task.Transition(automation.StatusPending, o.clock.Now()); err != nil {
		return err
	}
	if err := o.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("persist restart: %w", err)
	}
	o.alerts.Reset(taskID)
	return o.enqueue(ctx, taskID)
}

// Cancel stops a task. A live run is interrupted at its next suspension
// point; a queued PENDING task is cancelled directly in the store.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	if cancel, ok := o.sessions.Load(taskID); ok {
		cancel.(context.CancelCauseFunc)(automation.ErrTaskCancelled)
		return nil
	}
	return o.interruptStored(ctx, taskID, automation.StatusCancelled)
}

// Pause suspends a running task; it stays restartable. A stale RUNNING
// task with no live session is paused directly in the store.
func (o *Orchestrator) Pause(ctx context.Context, taskID string) error {
	if cancel, ok := o.sessions.Load(taskID); ok {
		cancel.(context.CancelCauseFunc)(automation.ErrTaskPaused)
		return nil
	}
	return o.interruptStored(ctx, taskID, automation.StatusPaused)
}

func (o *Orchestrator) interruptStored(ctx context.Context, taskID string, to automation.TaskStatus) error {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := task.Transition(to, o.clock.Now()); err != nil {
		return err
	}
	return o.store.UpdateTask(ctx, task)
}

// SolveChallenge marks the task's latest detection as solved by an
// external party, credits the solve in stats and resubmits the task.
func (o *Orchestrator) SolveChallenge(ctx context.Context, taskID, resolvedBy string) error {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != automation.StatusCaptchaDetected {
		return &automation.InvalidTransitionError{TaskID: taskID, From: task.Status, To: automation.StatusPending}
	}

	det, err := o.store.LatestDetection(ctx, taskID)
	if err != nil {
		return fmt.Errorf("latest detection: %w", err)
	}
	now := o.clock.Now()
	det.Status = automation.DetectionSolved
	det.ResolvedBy = resolvedBy
	det.ResolvedAt = &now
	if err := o.store.UpdateDetection(ctx, det); err != nil {
		return fmt.Errorf("resolve detection: %w", err)
	}

	st, err := o.store.GetOrCreateStats(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}
	st.ChallengeSolves++
	st.UpdatedAt = now
	if err := o.store.UpdateStats(ctx, st); err != nil {
		return fmt.Errorf("persist stats: %w", err)
	}

	if err := task.Transition(automation.StatusPending, now); err != nil {
		return err
	}
	if err := o.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("persist solve: %w", err)
	}
	o.alerts.Reset(taskID)
	return o.enqueue(ctx, taskID)
}

func (o *Orchestrator) enqueue(ctx context.Context, taskID string) error {
	ref := automation.TaskRef{TaskID: taskID, Submitted: o.clock.Now().Unix()}
	if err := o.queue.Enqueue(ctx, ref); err != nil {
		return fmt.Errorf("enqueue task %s: %w", taskID, err)
	}
	return nil
}

// Execute runs one task end to end: driver session, crawl loop, challenge
// scoring, stats and alerting, then finalization. It is safe to re-invoke
// on a task left RUNNING by a crashed attempt; such tasks are reset to
// PENDING before the fresh run. Returns nil on any settled outcome
// (completed, failed, challenge halt, cancelled); a non-nil error means
// the attempt did not settle the task and the queue should redeliver.
func (o *Orchestrator) Execute(ctx context.Context, taskID string) error {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}

	if task.Status == automation.StatusRunning {
		o.logger.Warn("resetting stale running task", zap.String("task_id", taskID))
		resetStale(&task)
		if err := o.store.UpdateTask(ctx, task); err != nil {
			return fmt.Errorf("reset stale task: %w", err)
		}
	}
	if task.Status != automation.StatusPending {
		// Cancelled or already settled while queued.
		o.logger.Info("skipping non-pending task",
			zap.String("task_id", taskID),
			zap.String("status", string(task.Status)))
		return nil
	}

	if err := task.Transition(automation.StatusRunning, o.clock.Now()); err != nil {
		return err
	}
	if err := o.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	o.sessions.Store(taskID, cancel)
	defer func() {
		o.sessions.Delete(taskID)
		cancel(nil)
	}()

	o.monitor.Start(taskID, task.Status)
	defer o.monitor.Stop(taskID)

	agg := stats.NewAggregator(taskID)
	defer o.finalizeStats(context.WithoutCancel(ctx), agg)

	err = o.run(runCtx, &task, agg)
	return o.settle(context.WithoutCancel(ctx), runCtx, &task, agg, err)
}

// resetStale returns a crashed-RUNNING task to PENDING so a redelivered
// attempt can pick it up. The shared transition table deliberately has no
// RUNNING -> PENDING edge (a live run must not be restarted from the API),
// so the recovery path stamps the fields directly instead.
func resetStale(task *automation.Task) {
	task.Status = automation.StatusPending
	task.StartedAt = nil
	task.FinishedAt = nil
	task.ErrorMessage = ""
}

// run is the crawl loop proper. It mutates task counters in place and
// returns nil on normal exit (frontier exhausted, page limit reached, or
// challenge halt); any error is fatal to the attempt.
func (o *Orchestrator) run(ctx context.Context, task *automation.Task, agg *stats.Aggregator) error {
	drv, err := o.drivers.NewSession(ctx, task.Browser)
	if err != nil {
		return &automation.FatalError{Op: "acquire driver session", Err: err}
	}
	defer func() {
		if cerr := drv.Close(context.WithoutCancel(ctx)); cerr != nil {
			o.logger.Warn("driver close failed", zap.String("task_id", task.ID), zap.Error(cerr))
		}
	}()

	front, err := frontier.New(task.StartURL)
	if err != nil {
		return &automation.FatalError{Op: "seed frontier", Err: err}
	}

	timeout := task.Browser.Timeout
	if timeout <= 0 {
		timeout = o.cfg.DefaultNavTimeout
	}

	visited := make(map[string]struct{})
	for task.TotalPagesVisited < task.MaxPages {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		url, err := front.Pop()
		if errors.Is(err, frontier.ErrEmpty) {
			break
		}
		if _, seen := visited[url]; seen {
			continue
		}
		visited[url] = struct{}{}

		info, err := drv.Navigate(ctx, url, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Only per-page fetch failures are absorbed; anything else
			// means the session itself is broken and fails the attempt.
			var transient *automation.TransientFetchError
			if !errors.As(err, &transient) {
				return fmt.Errorf("navigate %s: %w", url, err)
			}
			task.TotalErrors++
			agg.RecordFailure()
			metrics.ObservePageVisit(url, "error", 0)
			o.logger.Warn("page fetch failed",
				zap.String("task_id", task.ID),
				zap.String("url", url),
				zap.Error(err))
			continue
		}
		task.TotalPagesVisited++
		agg.RecordSuccess()
		metrics.ObservePageVisit(url, "success", info.LoadTime)

		halted, err := o.processPage(ctx, task, drv, front, agg, url, info)
		if err != nil {
			return err
		}
		if halted {
			return nil
		}

		o.observeResources(agg, task.ID)
		o.checkpoint(ctx, task, agg)

		if task.Delay > 0 {
			if err := o.sleep(ctx, task.Delay); err != nil {
				return err
			}
		}
	}
	return nil
}

// processPage records the visit, scores it for challenges and feeds the
// frontier. It reports halted=true when a challenge stopped the task.
func (o *Orchestrator) processPage(
	ctx context.Context,
	task *automation.Task,
	drv automation.Driver,
	front *frontier.Frontier,
	agg *stats.Aggregator,
	url string,
	info automation.PageInfo,
) (bool, error) {
	title, err := drv.Title(ctx)
	if err != nil {
		o.logger.Debug("title read failed", zap.String("url", url), zap.Error(err))
	}

	var result detector.Result
	snap, err := detector.CollectSignals(ctx, drv)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		o.logger.Warn("signal collection failed, skipping challenge scoring",
			zap.String("task_id", task.ID),
			zap.String("url", url),
			zap.Error(err))
	} else {
		result = detector.Score(snap, o.cfg.Detector)
	}

	event := automation.PageVisitEvent{
		TaskID:     task.ID,
		URL:        url,
		StatusCode: info.StatusCode,
		LoadTime:   info.LoadTime,
		Title:      title,
		CreatedAt:  o.clock.Now(),
	}
	event.ID, err = o.ids.NewID()
	if err != nil {
		return false, &automation.FatalError{Op: "generate event id", Err: err}
	}
	if result.Detected {
		event.ScreenshotURI = o.captureScreenshot(ctx, drv, task.ID, event.ID)
	}
	if err := o.store.RecordPageVisit(ctx, event); err != nil {
		return false, &automation.FatalError{Op: "record page visit", Err: err}
	}

	if result.Detected {
		agg.RecordChallenge()
		if err := o.haltOnChallenge(ctx, task, agg, event, result); err != nil {
			return false, err
		}
		return true, nil
	}

	html, err := drv.HTML(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		o.logger.Debug("html read failed, no links extracted", zap.String("url", url), zap.Error(err))
		return false, nil
	}
	for _, link := range frontier.ExtractLinks(html, url) {
		front.Push(link)
	}
	return false, nil
}

// haltOnChallenge records the detection and moves the task to
// CAPTCHA_DETECTED. The halt is deliberate, not a failure.
func (o *Orchestrator) haltOnChallenge(
	ctx context.Context,
	task *automation.Task,
	agg *stats.Aggregator,
	event automation.PageVisitEvent,
	result detector.Result,
) error {
	det := automation.ChallengeDetection{
		TaskID:           task.ID,
		PageEventID:      event.ID,
		Type:             string(result.Type),
		Confidence:       result.Confidence,
		Status:           automation.DetectionDetected,
		MatchedSelectors: result.MatchedSelectors,
		MatchedFrames:    result.MatchedFrames,
		MatchedText:      result.MatchedText,
		Recommendation:   result.Recommendation,
		DetectedAt:       o.clock.Now(),
	}
	var err error
	det.ID, err = o.ids.NewID()
	if err != nil {
		return &automation.FatalError{Op: "generate detection id", Err: err}
	}
	if err := o.store.RecordDetection(ctx, det); err != nil {
		return &automation.FatalError{Op: "record detection", Err: err}
	}
	metrics.ObserveChallenge(det.Type)
	o.logger.Info("challenge detected, halting task",
		zap.String("task_id", task.ID),
		zap.String("url", event.URL),
		zap.String("type", det.Type),
		zap.Float64("confidence", det.Confidence))

	if err := task.Transition(automation.StatusCaptchaDetected, o.clock.Now()); err != nil {
		return err
	}
	if err := o.store.UpdateTask(ctx, *task); err != nil {
		return fmt.Errorf("persist challenge halt: %w", err)
	}
	metrics.ObserveTask(string(task.Status))
	o.checkpoint(ctx, task, agg)
	return nil
}

// captureScreenshot is best-effort evidence collection; failures are
// logged and the detection proceeds without an artifact.
func (o *Orchestrator) captureScreenshot(ctx context.Context, drv automation.Driver, taskID, eventID string) string {
	shot, err := drv.Screenshot(ctx)
	if err != nil {
		o.logger.Warn("screenshot failed", zap.String("task_id", taskID), zap.Error(err))
		return ""
	}
	p := path.Join(o.cfg.ShotPrefix, taskID, eventID+".png")
	uri, err := o.shots.PutObject(ctx, p, "image/png", shot)
	if err != nil {
		o.logger.Warn("screenshot upload failed", zap.String("task_id", taskID), zap.Error(err))
		return ""
	}
	return uri
}

// checkpoint refreshes the monitoring entry and evaluates alert rules
// against the task's current stats.
func (o *Orchestrator) checkpoint(ctx context.Context, task *automation.Task, agg *stats.Aggregator) {
	o.monitor.Update(*task)
	snapshot := agg.Snapshot(o.clock.Now())
	o.alerts.Check(ctx, *task, &snapshot)
}

func (o *Orchestrator) observeResources(agg *stats.Aggregator, taskID string) {
	if o.sampler == nil {
		return
	}
	sample, err := o.sampler.Sample()
	if err != nil {
		o.logger.Debug("resource sample failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	agg.Observe(sample)
}

// settle maps the run outcome onto a final task status and persists it.
func (o *Orchestrator) settle(
	ctx context.Context,
	runCtx context.Context,
	task *automation.Task,
	agg *stats.Aggregator,
	runErr error,
) error {
	now := o.clock.Now()

	switch {
	case runErr == nil:
		if task.Status != automation.StatusRunning {
			// Challenge halt already persisted its own status.
			return nil
		}
		if err := task.Transition(automation.StatusCompleted, now); err != nil {
			return err
		}
	case runCtx.Err() != nil:
		cause := context.Cause(runCtx)
		var to automation.TaskStatus
		switch {
		case errors.Is(cause, automation.ErrTaskCancelled):
			to = automation.StatusCancelled
		case errors.Is(cause, automation.ErrTaskPaused):
			to = automation.StatusPaused
		default:
			// Process shutdown: leave the task RUNNING so the next
			// delivery resets and reruns it.
			return runErr
		}
		if err := task.Transition(to, now); err != nil {
			return err
		}
	default:
		o.logger.Error("task failed", zap.String("task_id", task.ID), zap.Error(runErr))
		task.ErrorMessage = runErr.Error()
		if err := task.Transition(automation.StatusFailed, now); err != nil {
			return err
		}
	}

	if err := o.store.UpdateTask(ctx, *task); err != nil {
		return fmt.Errorf("persist final status: %w", err)
	}
	metrics.ObserveTask(string(task.Status))
	o.checkpoint(ctx, task, agg)
	o.logger.Info("task settled",
		zap.String("task_id", task.ID),
		zap.String("status", string(task.Status)),
		zap.Int("pages_visited", task.TotalPagesVisited),
		zap.Int("errors", task.TotalErrors))
	return nil
}

// finalizeStats persists the accumulated counters, creating the stats row
// if absent. Idempotent across retries of the same attempt.
func (o *Orchestrator) finalizeStats(ctx context.Context, agg *stats.Aggregator) {
	snapshot := agg.Snapshot(o.clock.Now())
	existing, err := o.store.GetOrCreateStats(ctx, snapshot.TaskID)
	if err != nil {
		o.logger.Warn("stats load failed", zap.String("task_id", snapshot.TaskID), zap.Error(err))
		return
	}
	// Solves are credited out-of-band by SolveChallenge; carry them over.
	snapshot.ChallengeSolves = existing.ChallengeSolves
	if err := o.store.UpdateStats(ctx, snapshot); err != nil {
		o.logger.Warn("stats persist failed", zap.String("task_id", snapshot.TaskID), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
