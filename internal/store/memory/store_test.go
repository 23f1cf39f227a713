package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/autorunner/internal/automation"
)

func TestTaskLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	task := automation.Task{
		ID:       "t1",
		StartURL: "https://example.com/",
		MaxPages: 10,
		Status:   automation.StatusPending,
	}
	require.NoError(t, s.CreateTask(ctx, task))
	require.Error(t, s.CreateTask(ctx, task), "duplicate id must be rejected")

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, task, got)

	got.Status = automation.StatusRunning
	require.NoError(t, s.UpdateTask(ctx, got))
	got, err = s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, automation.StatusRunning, got.Status)

	_, err = s.GetTask(ctx, "missing")
	require.ErrorIs(t, err, automation.ErrNotFound)
	require.ErrorIs(t, s.UpdateTask(ctx, automation.Task{ID: "missing"}), automation.ErrNotFound)
}

func TestListTasksFiltersByStatus(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for _, tc := range []struct {
		id     string
		status automation.TaskStatus
	}{
		{"p1", automation.StatusPending},
		{"p2", automation.StatusPending},
		{"r1", automation.StatusRunning},
		{"c1", automation.StatusCompleted},
	} {
		require.NoError(t, s.CreateTask(ctx, automation.Task{ID: tc.id, Status: tc.status}))
	}

	all, err := s.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)

	pending, err := s.ListTasks(ctx, automation.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	active, err := s.ListTasks(ctx, automation.StatusPending, automation.StatusRunning)
	require.NoError(t, err)
	require.Len(t, active, 3)
}

func TestPageVisitsKeepInsertionOrder(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for i, url := range []string{"https://a.test/", "https://a.test/1", "https://a.test/2"} {
		require.NoError(t, s.RecordPageVisit(ctx, automation.PageVisitEvent{
			ID:     string(rune('a' + i)),
			TaskID: "t1",
			URL:    url,
		}))
	}
	events, err := s.ListPageVisits(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "https://a.test/", events[0].URL)
	require.Equal(t, "https://a.test/2", events[2].URL)

	empty, err := s.ListPageVisits(ctx, "other")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestDetections(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	_, err := s.LatestDetection(ctx, "t1")
	require.ErrorIs(t, err, automation.ErrNotFound)

	first := automation.ChallengeDetection{ID: "d1", TaskID: "t1", Type: "hcaptcha"}
	second := automation.ChallengeDetection{ID: "d2", TaskID: "t1", Type: "recaptcha_v2"}
	require.NoError(t, s.RecordDetection(ctx, first))
	require.NoError(t, s.RecordDetection(ctx, second))

	latest, err := s.LatestDetection(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "d2", latest.ID)

	now := time.Now()
	first.Status = automation.DetectionSolved
	first.ResolvedAt = &now
	require.NoError(t, s.UpdateDetection(ctx, first))

	require.ErrorIs(t,
		s.UpdateDetection(ctx, automation.ChallengeDetection{ID: "nope", TaskID: "t1"}),
		automation.ErrNotFound)
}

func TestStatsUpsert(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	st, err := s.GetOrCreateStats(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "t1", st.TaskID)
	require.Zero(t, st.TotalRequests)

	st.TotalRequests = 7
	st.SuccessfulRequests = 6
	require.NoError(t, s.UpdateStats(ctx, st))

	again, err := s.GetOrCreateStats(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 7, again.TotalRequests)
}

func TestAlertLog(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	require.NoError(t, s.RecordAlert(ctx, "t1", automation.Alert{Rule: "task_stuck"}))
	require.NoError(t, s.RecordAlert(ctx, "t1", automation.Alert{Rule: "task_completed"}))

	alerts, err := s.ListAlerts(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	require.Equal(t, "task_stuck", alerts[0].Rule)
}
