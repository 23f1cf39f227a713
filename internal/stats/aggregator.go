// Package stats accumulates per-task request counters and process
// resource high-water marks.
package stats

import (
	"time"

	"github.com/JakeFAU/autorunner/internal/automation"
)

// Aggregator keeps the running totals for one task run. It is owned by a
// single orchestrator goroutine and needs no locking.
type Aggregator struct {
	taskID              string
	totalRequests       int
	successfulRequests  int
	failedRequests      int
	challengeDetections int
	memoryPeakMB        float64
	cpuPeakPercent      float64
}

// NewAggregator starts a zeroed counter set for the task.
func NewAggregator(taskID string) *Aggregator {
	return &Aggregator{taskID: taskID}
}

// RecordSuccess counts a page visit attempt that produced a page.
func (a *Aggregator) RecordSuccess() {
	a.totalRequests++
	a.successfulRequests++
}

// RecordFailure counts a page visit attempt that failed.
func (a *Aggregator) RecordFailure() {
	a.totalRequests++
	a.failedRequests++
}

// RecordChallenge counts a challenge detection.
func (a *Aggregator) RecordChallenge() {
	a.challengeDetections++
}

// Observe folds a resource sample into the peaks. High-water mark
// semantics only; never averaged.
func (a *Aggregator) Observe(s Sample) {
	if s.MemoryMB > a.memoryPeakMB {
		a.memoryPeakMB = s.MemoryMB
	}
	if s.CPUPercent > a.cpuPeakPercent {
		a.cpuPeakPercent = s.CPUPercent
	}
}

// Snapshot renders the current totals as a Stats entity.
func (a *Aggregator) Snapshot(now time.Time) automation.Stats {
	return automation.Stats{
		TaskID:              a.taskID,
		TotalRequests:       a.totalRequests,
		SuccessfulRequests:  a.successfulRequests,
		FailedRequests:      a.failedRequests,
		ChallengeDetections: a.challengeDetections,
		MemoryPeakMB:        a.memoryPeakMB,
		CPUPeakPercent:      a.cpuPeakPercent,
		UpdatedAt:           now,
	}
}
