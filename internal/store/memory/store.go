// Package memory provides a TaskStore implementation for development and
// testing.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/autorunner/internal/automation"
)

// Store keeps all task entities in process memory, guarded by one mutex.
type Store struct {
	mu         sync.RWMutex
	tasks      map[string]automation.Task
	events     map[string][]automation.PageVisitEvent
	detections map[string][]automation.ChallengeDetection
	stats      map[string]automation.Stats
	alerts     map[string][]automation.Alert
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		tasks:      make(map[string]automation.Task),
		events:     make(map[string][]automation.PageVisitEvent),
		detections: make(map[string][]automation.ChallengeDetection),
		stats:      make(map[string]automation.Stats),
		alerts:     make(map[string][]automation.Alert),
	}
}

// CreateTask stores a new task.
func (s *Store) CreateTask(_ context.Context, task automation.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	s.tasks[task.ID] = task
	return nil
}

// GetTask fetches a task by id.
func (s *Store) GetTask(_ context.Context, taskID string) (automation.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return automation.Task{}, fmt.Errorf("task %s: %w", taskID, automation.ErrNotFound)
	}
	return task, nil
}

// UpdateTask replaces the stored task.
func (s *Store) UpdateTask(_ context.Context, task automation.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return fmt.Errorf("task %s: %w", task.ID, automation.ErrNotFound)
	}
	s.tasks[task.ID] = task
	return nil
}

// ListTasks returns tasks filtered by status; no filter returns all.
func (s *Store) ListTasks(_ context.Context, statuses ...automation.TaskStatus) ([]automation.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []automation.Task
	for _, task := range s.tasks {
		if len(statuses) == 0 {
			out = append(out, task)
			continue
		}
		for _, st := range statuses {
			if task.Status == st {
				out = append(out, task)
				break
			}
		}
	}
	return out, nil
}

// RecordPageVisit appends a page event in visit order.
func (s *Store) RecordPageVisit(_ context.Context, event automation.PageVisitEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.TaskID] = append(s.events[event.TaskID], event)
	return nil
}

// ListPageVisits returns the task's page events in visit order.
func (s *Store) ListPageVisits(_ context.Context, taskID string) ([]automation.PageVisitEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]automation.PageVisitEvent(nil), s.events[taskID]...), nil
}

// RecordDetection appends a challenge detection.
func (s *Store) RecordDetection(_ context.Context, det automation.ChallengeDetection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections[det.TaskID] = append(s.detections[det.TaskID], det)
	return nil
}

// LatestDetection returns the most recent detection for a task.
func (s *Store) LatestDetection(_ context.Context, taskID string) (automation.ChallengeDetection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dets := s.detections[taskID]
	if len(dets) == 0 {
		return automation.ChallengeDetection{}, fmt.Errorf("detections for task %s: %w", taskID, automation.ErrNotFound)
	}
	return dets[len(dets)-1], nil
}

// UpdateDetection replaces a stored detection by id.
func (s *Store) UpdateDetection(_ context.Context, det automation.ChallengeDetection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dets := s.detections[det.TaskID]
	for i := range dets {
		if dets[i].ID == det.ID {
			dets[i] = det
			return nil
		}
	}
	return fmt.Errorf("detection %s: %w", det.ID, automation.ErrNotFound)
}

// GetOrCreateStats returns the stats row for the task, creating an empty
// one when absent.
func (s *Store) GetOrCreateStats(_ context.Context, taskID string) (automation.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stats[taskID]; ok {
		return st, nil
	}
	st := automation.Stats{TaskID: taskID, UpdatedAt: time.Now().UTC()}
	s.stats[taskID] = st
	return st, nil
}

// UpdateStats replaces the task's stats row.
func (s *Store) UpdateStats(_ context.Context, stats automation.Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[stats.TaskID] = stats
	return nil
}

// RecordAlert appends an alert log entry.
func (s *Store) RecordAlert(_ context.Context, taskID string, alert automation.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[taskID] = append(s.alerts[taskID], alert)
	return nil
}

// ListAlerts returns the task's alert log.
func (s *Store) ListAlerts(_ context.Context, taskID string) ([]automation.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]automation.Alert(nil), s.alerts[taskID]...), nil
}
