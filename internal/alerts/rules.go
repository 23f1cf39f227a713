package alerts

import (
	"fmt"
	"time"

	"github.com/JakeFAU/autorunner/internal/automation"
)

// stuckAfter is the running-time window the "stuck" rule watches.
const stuckAfter = 30 * time.Minute

// DefaultRules returns the stock rule set evaluated on every check.
func DefaultRules(clock automation.Clock) []Rule {
	return []Rule{
		{
			Name:     "task_stuck",
			Severity: automation.SeverityWarning,
			Enabled:  true,
			Condition: func(task automation.Task, _ *automation.Stats) bool {
				if task.Status != automation.StatusRunning || task.StartedAt == nil {
					return false
				}
				return clock.Now().Sub(*task.StartedAt) > stuckAfter
			},
			Message: func(task automation.Task, _ *automation.Stats) string {
				return fmt.Sprintf("task has been running for over %s", stuckAfter)
			},
		},
		{
			Name:     "high_error_rate",
			Severity: automation.SeverityError,
			Enabled:  true,
			Condition: func(_ automation.Task, stats *automation.Stats) bool {
				if stats == nil || stats.TotalRequests <= 10 {
					return false
				}
				return float64(stats.FailedRequests)/float64(stats.TotalRequests) > 0.5
			},
			Message: func(_ automation.Task, stats *automation.Stats) string {
				rate := float64(stats.FailedRequests) / float64(stats.TotalRequests) * 100
				return fmt.Sprintf("high error rate detected: %.1f%%", rate)
			},
		},
		{
			Name:     "challenge_detected",
			Severity: automation.SeverityWarning,
			Enabled:  true,
			Condition: func(task automation.Task, _ *automation.Stats) bool {
				return task.Status == automation.StatusCaptchaDetected
			},
			Message: func(automation.Task, *automation.Stats) string {
				return "verification challenge detected - human intervention required"
			},
		},
		{
			Name:     "task_completed",
			Severity: automation.SeverityInfo,
			Enabled:  true,
			Condition: func(task automation.Task, _ *automation.Stats) bool {
				return task.Status == automation.StatusCompleted
			},
			Message: func(task automation.Task, _ *automation.Stats) string {
				return fmt.Sprintf("task completed: pages visited %d, errors %d",
					task.TotalPagesVisited, task.TotalErrors)
			},
		},
	}
}
