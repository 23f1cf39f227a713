package automation

import (
	"errors"
	"fmt"
	"time"
)

// TaskStatus represents the lifecycle state of an automation task.
type TaskStatus string

// Task status values persisted in the task store.
const (
	StatusPending         TaskStatus = "PENDING"
	StatusRunning         TaskStatus = "RUNNING"
	StatusCaptchaDetected TaskStatus = "CAPTCHA_DETECTED"
	StatusPaused          TaskStatus = "PAUSED"
	StatusCompleted       TaskStatus = "COMPLETED"
	StatusFailed          TaskStatus = "FAILED"
	StatusCancelled       TaskStatus = "CANCELLED"
)

// ErrInvalidTransition is the sentinel wrapped by InvalidTransitionError.
var ErrInvalidTransition = errors.New("invalid task transition")

// InvalidTransitionError reports a disallowed status change.
type InvalidTransitionError struct {
	TaskID string
	From   TaskStatus
	To     TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: transition %s -> %s not allowed", e.TaskID, e.From, e.To)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// transitions is the full set of legal status edges. Restart edges
// (back to PENDING) reset the timing fields, see Transition.
var transitions = map[TaskStatus][]TaskStatus{
	StatusPending:         {StatusRunning, StatusCancelled},
	StatusRunning:         {StatusCaptchaDetected, StatusCompleted, StatusFailed, StatusPaused, StatusCancelled},
	StatusCaptchaDetected: {StatusPending},
	StatusPaused:          {StatusPending},
	StatusFailed:          {StatusPending},
}

// Terminal reports whether no further mutation of the task is permitted.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether s -> to is a legal edge.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the task to the requested status, maintaining the
// timing fields: entering RUNNING stamps StartedAt, leaving the running
// phase stamps FinishedAt, and the restart path back to PENDING clears
// StartedAt, FinishedAt and ErrorMessage. Illegal edges return an
// *InvalidTransitionError and leave the task untouched.
func (t *Task) Transition(to TaskStatus, now time.Time) error {
	if !t.Status.CanTransition(to) {
		return &InvalidTransitionError{TaskID: t.ID, From: t.Status, To: to}
	}
	switch to {
	case StatusRunning:
		stamp := now
		t.StartedAt = &stamp
		t.FinishedAt = nil
	case StatusPending:
		t.StartedAt = nil
		t.FinishedAt = nil
		t.ErrorMessage = ""
	case StatusCompleted, StatusFailed, StatusCancelled, StatusCaptchaDetected, StatusPaused:
		stamp := now
		t.FinishedAt = &stamp
	}
	t.Status = to
	return nil
}
