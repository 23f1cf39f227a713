// Package alerts evaluates monitoring rules against running and finished
// tasks and fires idempotent alerts.
package alerts

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/autorunner/internal/automation"
	"github.com/JakeFAU/autorunner/internal/metrics"
)

// Rule pairs a condition over (Task, Stats) with the alert it produces.
type Rule struct {
	Name      string
	Severity  automation.AlertSeverity
	Enabled   bool
	Condition func(task automation.Task, stats *automation.Stats) bool
	Message   func(task automation.Task, stats *automation.Stats) string
}

// Engine holds the rule registry and the per-rule fired sets. One Engine
// is shared across workers; Check may be called concurrently for
// different tasks.
//
// De-duplication is per task lifetime per rule: once a rule fires for a
// task id it will not fire for that task again, regardless of which other
// tasks are evaluated in between. Reset (called on restart) clears the
// entries so a rerun can alert again.
type Engine struct {
	mu       sync.Mutex
	rules    []*ruleState
	store    automation.TaskStore
	notifier automation.Notifier
	clock    automation.Clock
	logger   *zap.Logger
}

type ruleState struct {
	Rule
	fired map[string]struct{}
}

// NewEngine builds an Engine over the given rules. A nil notifier
// disables delivery; alert logs are still recorded.
func NewEngine(
	store automation.TaskStore,
	notifier automation.Notifier,
	clock automation.Clock,
	logger *zap.Logger,
	rules ...Rule,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:    store,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
	}
	for _, r := range rules {
		e.rules = append(e.rules, &ruleState{Rule: r, fired: make(map[string]struct{})})
	}
	return e
}

// Check evaluates every enabled rule against the task. Each rule fires at
// most once per task: the alert is recorded through the store and handed
// to the notifier best-effort. Notification and store failures are logged
// and never propagated to the caller. The fired set is marked under the
// engine lock; delivery happens outside it so a slow notifier never holds
// up other workers' checkpoints.
func (e *Engine) Check(ctx context.Context, task automation.Task, stats *automation.Stats) {
	e.mu.Lock()
	var due []*ruleState
	for _, r := range e.rules {
		if !r.Enabled {
			continue
		}
		if _, done := r.fired[task.ID]; done {
			continue
		}
		if !r.Condition(task, stats) {
			continue
		}
		r.fired[task.ID] = struct{}{}
		due = append(due, r)
	}
	e.mu.Unlock()
	for _, r := range due {
		e.fire(ctx, r, task, stats)
	}
}

// Reset forgets all fired state for a task so a restarted run can alert
// again.
func (e *Engine) Reset(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.rules {
		delete(r.fired, taskID)
	}
}

func (e *Engine) fire(ctx context.Context, r *ruleState, task automation.Task, stats *automation.Stats) {
	alert := automation.Alert{
		TaskID:    task.ID,
		TaskName:  task.Name,
		Rule:      r.Name,
		Severity:  r.Severity,
		Message:   r.Message(task, stats),
		CreatedAt: e.clock.Now(),
	}
	metrics.ObserveAlert(r.Name)
	e.logger.Warn("alert fired",
		zap.String("rule", r.Name),
		zap.String("task_id", task.ID),
		zap.String("severity", string(r.Severity)),
		zap.String("message", alert.Message),
	)
	if e.store != nil {
		if err := e.store.RecordAlert(ctx, task.ID, alert); err != nil {
			e.logger.Error("record alert failed", zap.String("rule", r.Name), zap.Error(err))
		}
	}
	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, alert); err != nil {
			e.logger.Error("alert delivery failed", zap.String("rule", r.Name), zap.Error(err))
		}
	}
}
