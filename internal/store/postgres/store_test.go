package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/autorunner/internal/automation"
)

var taskRowColumns = []string{
	"id", "name", "start_url", "max_pages", "max_depth", "delay_ns", "browser",
	"status", "priority", "created_at", "started_at", "finished_at",
	"total_pages_visited", "total_errors", "notes", "error_message",
}

func TestCreateTaskInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	task := automation.Task{
		ID:        "uuid-v7",
		Name:      "inventory sweep",
		StartURL:  "https://example.com/",
		MaxPages:  25,
		MaxDepth:  3,
		Delay:     2 * time.Second,
		Browser:   automation.BrowserConfig{Headless: true, WindowSize: "1920,1080"},
		Status:    automation.StatusPending,
		Priority:  automation.PriorityNormal,
		CreatedAt: now,
	}

	mock.ExpectExec("INSERT INTO tasks").
		WithArgs(
			task.ID, task.Name, task.StartURL, task.MaxPages, task.MaxDepth,
			task.Delay.Nanoseconds(),
			[]byte(`{"headless":true,"window_size":"1920,1080","user_agent":"","timeout":0}`),
			"PENDING", "NORMAL", now, task.StartedAt, task.FinishedAt,
			0, 0, "", "",
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateTask(context.Background(), task))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskScansRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT (.+) FROM tasks WHERE id").
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows(taskRowColumns).AddRow(
			"t1", "sweep", "https://example.com/", 25, 3,
			(2 * time.Second).Nanoseconds(), []byte(`{"headless":true}`),
			"RUNNING", "HIGH", now, &now, (*time.Time)(nil),
			7, 1, "", "",
		))

	task, err := store.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, automation.StatusRunning, task.Status)
	require.Equal(t, automation.PriorityHigh, task.Priority)
	require.Equal(t, 2*time.Second, task.Delay)
	require.True(t, task.Browser.Headless)
	require.Equal(t, 7, task.TotalPagesVisited)
	require.NotNil(t, task.StartedAt)
	require.Nil(t, task.FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM tasks WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(taskRowColumns))

	_, err = store.GetTask(context.Background(), "missing")
	require.ErrorIs(t, err, automation.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTaskNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE tasks SET").
		WithArgs(
			"missing", "", "", 0, 0, int64(0),
			[]byte(`{"headless":false,"window_size":"","user_agent":"","timeout":0}`),
			"", "", (*time.Time)(nil), (*time.Time)(nil), 0, 0, "", "",
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.UpdateTask(context.Background(), automation.Task{ID: "missing"})
	require.ErrorIs(t, err, automation.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPageVisitInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	event := automation.PageVisitEvent{
		ID:         "e1",
		TaskID:     "t1",
		URL:        "https://example.com/page",
		StatusCode: 200,
		LoadTime:   320 * time.Millisecond,
		Title:      "Page",
		CreatedAt:  now,
	}

	mock.ExpectExec("INSERT INTO page_events").
		WithArgs(
			event.ID, event.TaskID, event.URL, event.StatusCode,
			event.LoadTime.Nanoseconds(), event.Title, "", []byte(`{}`), now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordPageVisit(context.Background(), event))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateStatsEnsuresRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("INSERT INTO task_stats").
		WithArgs("t1").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT (.+) FROM task_stats WHERE task_id").
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{
			"task_id", "total_requests", "successful_requests", "failed_requests",
			"captcha_detections", "captcha_solves", "memory_peak_mb", "cpu_peak_percent",
			"updated_at",
		}).AddRow("t1", 10, 9, 1, 0, 0, 256.5, 42.0, now))

	st, err := store.GetOrCreateStats(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, 10, st.TotalRequests)
	require.InDelta(t, 256.5, st.MemoryPeakMB, 0.001)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordAlertInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	alert := automation.Alert{
		TaskID:    "t1",
		TaskName:  "sweep",
		Rule:      "high_error_rate",
		Severity:  automation.SeverityError,
		Message:   "high error rate detected: 60.0%",
		CreatedAt: now,
	}

	mock.ExpectExec("INSERT INTO alerts").
		WithArgs("t1", "sweep", "high_error_rate", "error", alert.Message, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordAlert(context.Background(), "t1", alert))
	require.NoError(t, mock.ExpectationsWereMet())
}
