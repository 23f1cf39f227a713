package automation

import (
	"errors"
	"testing"
	"time"
)

func TestTransitionLegalEdges(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from TaskStatus
		to   TaskStatus
	}{
		{StatusPending, StatusRunning},
		{StatusPending, StatusCancelled},
		{StatusRunning, StatusCaptchaDetected},
		{StatusRunning, StatusCompleted},
		{StatusRunning, StatusFailed},
		{StatusRunning, StatusPaused},
		{StatusRunning, StatusCancelled},
		{StatusCaptchaDetected, StatusPending},
		{StatusPaused, StatusPending},
		{StatusFailed, StatusPending},
	}
	for _, tc := range cases {
		task := Task{ID: "t1", Status: tc.from}
		if err := task.Transition(tc.to, time.Now()); err != nil {
			t.Errorf("Transition(%s -> %s) error = %v", tc.from, tc.to, err)
		}
		if task.Status != tc.to {
			t.Errorf("Transition(%s -> %s) status = %s", tc.from, tc.to, task.Status)
		}
	}
}

func TestTransitionOutOfTerminalFails(t *testing.T) {
	t.Parallel()

	all := []TaskStatus{
		StatusPending, StatusRunning, StatusCaptchaDetected,
		StatusPaused, StatusCompleted, StatusFailed, StatusCancelled,
	}
	for _, terminal := range []TaskStatus{StatusCompleted, StatusCancelled} {
		for _, to := range all {
			task := Task{ID: "t1", Status: terminal}
			err := task.Transition(to, time.Now())
			if err == nil {
				t.Errorf("Transition(%s -> %s) should fail", terminal, to)
				continue
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Transition(%s -> %s) error = %v, want ErrInvalidTransition", terminal, to, err)
			}
			if task.Status != terminal {
				t.Errorf("failed transition mutated status to %s", task.Status)
			}
		}
	}
	// FAILED is terminal except for the explicit restart edge.
	task := Task{ID: "t1", Status: StatusFailed}
	if err := task.Transition(StatusRunning, time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("FAILED -> RUNNING error = %v, want ErrInvalidTransition", err)
	}
}

func TestTransitionTimestamps(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	task := Task{ID: "t1", Status: StatusPending}

	if err := task.Transition(StatusRunning, now); err != nil {
		t.Fatalf("to RUNNING: %v", err)
	}
	if task.StartedAt == nil || !task.StartedAt.Equal(now) {
		t.Fatalf("StartedAt = %v, want %v", task.StartedAt, now)
	}

	later := now.Add(5 * time.Minute)
	if err := task.Transition(StatusCaptchaDetected, later); err != nil {
		t.Fatalf("to CAPTCHA_DETECTED: %v", err)
	}
	if task.FinishedAt == nil || !task.FinishedAt.Equal(later) {
		t.Fatalf("FinishedAt = %v, want %v", task.FinishedAt, later)
	}
}

func TestRestartClearsTimingAndError(t *testing.T) {
	t.Parallel()

	now := time.Now()
	started := now.Add(-time.Hour)
	finished := now.Add(-30 * time.Minute)
	task := Task{
		ID:           "t1",
		Status:       StatusCaptchaDetected,
		StartedAt:    &started,
		FinishedAt:   &finished,
		ErrorMessage: "challenge halt",
	}
	if err := task.Transition(StatusPending, now); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if task.StartedAt != nil || task.FinishedAt != nil || task.ErrorMessage != "" {
		t.Fatalf("restart did not clear timing/error: %+v", task)
	}
	if err := task.Transition(StatusRunning, now); err != nil {
		t.Fatalf("pickup after restart: %v", err)
	}
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	for status, want := range map[TaskStatus]bool{
		StatusPending:         false,
		StatusRunning:         false,
		StatusCaptchaDetected: false,
		StatusPaused:          false,
		StatusCompleted:       true,
		StatusFailed:          true,
		StatusCancelled:       true,
	} {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestStatsRates(t *testing.T) {
	t.Parallel()

	empty := Stats{}
	if got := empty.SuccessRate(); got != 0 {
		t.Fatalf("empty SuccessRate = %v", got)
	}
	s := Stats{TotalRequests: 20, SuccessfulRequests: 15, ChallengeDetections: 4, ChallengeSolves: 1}
	if got := s.SuccessRate(); got != 75 {
		t.Fatalf("SuccessRate = %v, want 75", got)
	}
	if got := s.SolveRate(); got != 25 {
		t.Fatalf("SolveRate = %v, want 25", got)
	}
}
