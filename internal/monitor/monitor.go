// Package monitor tracks live task state for the real-time monitoring
// read surface. The table is the only mutable structure shared across
// workers and holds at most one entry per task id.
package monitor

import (
	"sync"
	"time"

	"github.com/JakeFAU/autorunner/internal/automation"
)

// historyLimit bounds the retained status points per task.
const historyLimit = 10

// StatusPoint is one observed task state change.
type StatusPoint struct {
	Status       automation.TaskStatus `json:"status"`
	At           time.Time             `json:"timestamp"`
	PagesVisited int                   `json:"pages_visited"`
	Errors       int                   `json:"errors"`
}

// Snapshot is the monitoring view for one task.
type Snapshot struct {
	TaskID     string                `json:"task_id"`
	Status     automation.TaskStatus `json:"status"`
	StartTime  time.Time             `json:"start_time"`
	LastUpdate time.Time             `json:"last_update"`
	History    []StatusPoint         `json:"status_history"`
}

type entry struct {
	status     automation.TaskStatus
	startTime  time.Time
	lastUpdate time.Time
	history    []StatusPoint
}

// Table is a concurrent task-id -> status-history map.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*entry
	clock   automation.Clock
}

// NewTable builds an empty monitoring table.
func NewTable(clock automation.Clock) *Table {
	return &Table{
		entries: make(map[string]*entry),
		clock:   clock,
	}
}

// Start registers a task for monitoring. Starting an already-monitored
// task replaces its entry, which keeps the one-entry-per-id invariant
// under crash recovery.
func (t *Table) Start(taskID string, status automation.TaskStatus) {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[taskID] = &entry{
		status:     status,
		startTime:  now,
		lastUpdate: now,
	}
}

// Update appends a status point for a monitored task; unmonitored ids are
// ignored.
func (t *Table) Update(task automation.Task) {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[task.ID]
	if !ok {
		return
	}
	e.status = task.Status
	e.lastUpdate = now
	e.history = append(e.history, StatusPoint{
		Status:       task.Status,
		At:           now,
		PagesVisited: task.TotalPagesVisited,
		Errors:       task.TotalErrors,
	})
	if len(e.history) > historyLimit {
		e.history = e.history[len(e.history)-historyLimit:]
	}
}

// Stop removes the task's entry.
func (t *Table) Stop(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, taskID)
}

// Get returns the monitoring snapshot for a task, or false when the task
// is not monitored.
func (t *Table) Get(taskID string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[taskID]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		TaskID:     taskID,
		Status:     e.status,
		StartTime:  e.startTime,
		LastUpdate: e.lastUpdate,
		History:    append([]StatusPoint(nil), e.history...),
	}, true
}

// ActiveCount reports how many tasks are currently monitored.
func (t *Table) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
