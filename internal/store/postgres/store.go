// Package postgres provides Postgres-backed persistence for the
// automation service.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/autorunner/internal/automation"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements automation.TaskStore on Postgres.
type Store struct {
	pool dbPool
}

// New connects a pool and returns the store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const taskColumns = `id, name, start_url, max_pages, max_depth, delay_ns, browser,
	status, priority, created_at, started_at, finished_at,
	total_pages_visited, total_errors, notes, error_message`

// CreateTask inserts a new task row.
func (s *Store) CreateTask(ctx context.Context, task automation.Task) error {
	if task.ID == "" {
		return fmt.Errorf("task id is required")
	}
	browser, err := json.Marshal(task.Browser)
	if err != nil {
		return fmt.Errorf("marshal browser config: %w", err)
	}
	query := `
INSERT INTO tasks (` + taskColumns + `
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)`
	_, err = s.pool.Exec(ctx, query,
		task.ID, task.Name, task.StartURL, task.MaxPages, task.MaxDepth,
		task.Delay.Nanoseconds(), browser, string(task.Status), string(task.Priority),
		task.CreatedAt, task.StartedAt, task.FinishedAt,
		task.TotalPagesVisited, task.TotalErrors, task.Notes, task.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask fetches one task row by id.
func (s *Store) GetTask(ctx context.Context, taskID string) (automation.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return automation.Task{}, fmt.Errorf("task %s: %w", taskID, automation.ErrNotFound)
	}
	if err != nil {
		return automation.Task{}, fmt.Errorf("select task: %w", err)
	}
	return task, nil
}

// UpdateTask replaces the mutable columns of a task row.
func (s *Store) UpdateTask(ctx context.Context, task automation.Task) error {
	browser, err := json.Marshal(task.Browser)
	if err != nil {
		return fmt.Errorf("marshal browser config: %w", err)
	}
	query := `
UPDATE tasks SET
	name = $2,
	start_url = $3,
	max_pages = $4,
	max_depth = $5,
	delay_ns = $6,
	browser = $7,
	status = $8,
	priority = $9,
	started_at = $10,
	finished_at = $11,
	total_pages_visited = $12,
	total_errors = $13,
	notes = $14,
	error_message = $15
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		task.ID, task.Name, task.StartURL, task.MaxPages, task.MaxDepth,
		task.Delay.Nanoseconds(), browser, string(task.Status), string(task.Priority),
		task.StartedAt, task.FinishedAt,
		task.TotalPagesVisited, task.TotalErrors, task.Notes, task.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", task.ID, automation.ErrNotFound)
	}
	return nil
}

// ListTasks returns tasks filtered by status; no filter returns all.
func (s *Store) ListTasks(ctx context.Context, statuses ...automation.TaskStatus) ([]automation.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at`
	var (
		rows pgx.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.pool.Query(ctx, query)
	} else {
		filter := make([]string, len(statuses))
		for i, st := range statuses {
			filter[i] = string(st)
		}
		query = `SELECT ` + taskColumns + ` FROM tasks WHERE status = ANY($1) ORDER BY created_at`
		rows, err = s.pool.Query(ctx, query, filter)
	}
	if err != nil {
		return nil, fmt.Errorf("select tasks: %w", err)
	}
	defer rows.Close()

	var out []automation.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

func scanTask(row pgx.Row) (automation.Task, error) {
	var (
		task     automation.Task
		delayNS  int64
		browser  []byte
		status   string
		priority string
	)
	err := row.Scan(
		&task.ID, &task.Name, &task.StartURL, &task.MaxPages, &task.MaxDepth,
		&delayNS, &browser, &status, &priority,
		&task.CreatedAt, &task.StartedAt, &task.FinishedAt,
		&task.TotalPagesVisited, &task.TotalErrors, &task.Notes, &task.ErrorMessage,
	)
	if err != nil {
		return automation.Task{}, err
	}
	task.Delay = time.Duration(delayNS)
	task.Status = automation.TaskStatus(status)
	task.Priority = automation.TaskPriority(priority)
	if len(browser) > 0 {
		if err := json.Unmarshal(browser, &task.Browser); err != nil {
			return automation.Task{}, fmt.Errorf("unmarshal browser config: %w", err)
		}
	}
	return task, nil
}

// RecordPageVisit appends one page event row.
func (s *Store) RecordPageVisit(ctx context.Context, event automation.PageVisitEvent) error {
	metadata, err := json.Marshal(normalizeMetadata(event.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	query := `
INSERT INTO page_events (
	id, task_id, url, status_code, load_time_ns, title, screenshot_uri, metadata, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`
	_, err = s.pool.Exec(ctx, query,
		event.ID, event.TaskID, event.URL, event.StatusCode,
		event.LoadTime.Nanoseconds(), event.Title, event.ScreenshotURI,
		metadata, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert page event: %w", err)
	}
	return nil
}

// ListPageVisits returns the task's page events in visit order.
func (s *Store) ListPageVisits(ctx context.Context, taskID string) ([]automation.PageVisitEvent, error) {
	query := `
SELECT id, task_id, url, status_code, load_time_ns, title, screenshot_uri, metadata, created_at
FROM page_events WHERE task_id = $1 ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("select page events: %w", err)
	}
	defer rows.Close()

	var out []automation.PageVisitEvent
	for rows.Next() {
		var (
			event      automation.PageVisitEvent
			loadTimeNS int64
			metadata   []byte
		)
		err := rows.Scan(
			&event.ID, &event.TaskID, &event.URL, &event.StatusCode,
			&loadTimeNS, &event.Title, &event.ScreenshotURI, &metadata, &event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan page event: %w", err)
		}
		event.LoadTime = time.Duration(loadTimeNS)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page events: %w", err)
	}
	return out, nil
}

const detectionColumns = `id, task_id, page_event_id, type, confidence, status,
	matched_selectors, matched_frames, matched_text, recommendation,
	detected_at, resolved_by, resolved_at`

// RecordDetection appends one challenge detection row.
func (s *Store) RecordDetection(ctx context.Context, det automation.ChallengeDetection) error {
	query := `
INSERT INTO detections (` + detectionColumns + `
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)`
	_, err := s.pool.Exec(ctx, query,
		det.ID, det.TaskID, det.PageEventID, det.Type, det.Confidence, string(det.Status),
		det.MatchedSelectors, det.MatchedFrames, det.MatchedText, det.Recommendation,
		det.DetectedAt, det.ResolvedBy, det.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert detection: %w", err)
	}
	return nil
}

// LatestDetection returns the most recent detection for a task.
func (s *Store) LatestDetection(ctx context.Context, taskID string) (automation.ChallengeDetection, error) {
	query := `SELECT ` + detectionColumns + ` FROM detections
WHERE task_id = $1 ORDER BY detected_at DESC, id DESC LIMIT 1`
	row := s.pool.QueryRow(ctx, query, taskID)

	var (
		det    automation.ChallengeDetection
		status string
	)
	err := row.Scan(
		&det.ID, &det.TaskID, &det.PageEventID, &det.Type, &det.Confidence, &status,
		&det.MatchedSelectors, &det.MatchedFrames, &det.MatchedText, &det.Recommendation,
		&det.DetectedAt, &det.ResolvedBy, &det.ResolvedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return automation.ChallengeDetection{}, fmt.Errorf("detections for task %s: %w", taskID, automation.ErrNotFound)
	}
	if err != nil {
		return automation.ChallengeDetection{}, fmt.Errorf("select detection: %w", err)
	}
	det.Status = automation.DetectionStatus(status)
	return det, nil
}

// UpdateDetection updates the resolution columns of a detection row.
func (s *Store) UpdateDetection(ctx context.Context, det automation.ChallengeDetection) error {
	query := `
UPDATE detections SET
	status = $2,
	resolved_by = $3,
	resolved_at = $4
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, det.ID, string(det.Status), det.ResolvedBy, det.ResolvedAt)
	if err != nil {
		return fmt.Errorf("update detection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("detection %s: %w", det.ID, automation.ErrNotFound)
	}
	return nil
}

const statsColumns = `task_id, total_requests, successful_requests, failed_requests,
	captcha_detections, captcha_solves, memory_peak_mb, cpu_peak_percent, updated_at`

// GetOrCreateStats returns the stats row for the task, creating an empty
// one when absent.
func (s *Store) GetOrCreateStats(ctx context.Context, taskID string) (automation.Stats, error) {
	insert := `
INSERT INTO task_stats (task_id, updated_at) VALUES ($1, NOW())
ON CONFLICT (task_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, insert, taskID); err != nil {
		return automation.Stats{}, fmt.Errorf("ensure stats row: %w", err)
	}

	row := s.pool.QueryRow(ctx, `SELECT `+statsColumns+` FROM task_stats WHERE task_id = $1`, taskID)
	var st automation.Stats
	err := row.Scan(
		&st.TaskID, &st.TotalRequests, &st.SuccessfulRequests, &st.FailedRequests,
		&st.ChallengeDetections, &st.ChallengeSolves, &st.MemoryPeakMB, &st.CPUPeakPercent,
		&st.UpdatedAt,
	)
	if err != nil {
		return automation.Stats{}, fmt.Errorf("select stats: %w", err)
	}
	return st, nil
}

// UpdateStats upserts the task's stats row.
func (s *Store) UpdateStats(ctx context.Context, stats automation.Stats) error {
	query := `
INSERT INTO task_stats (` + statsColumns + `
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (task_id) DO UPDATE SET
	total_requests = EXCLUDED.total_requests,
	successful_requests = EXCLUDED.successful_requests,
	failed_requests = EXCLUDED.failed_requests,
	captcha_detections = EXCLUDED.captcha_detections,
	captcha_solves = EXCLUDED.captcha_solves,
	memory_peak_mb = EXCLUDED.memory_peak_mb,
	cpu_peak_percent = EXCLUDED.cpu_peak_percent,
	updated_at = EXCLUDED.updated_at`
	_, err := s.pool.Exec(ctx, query,
		stats.TaskID, stats.TotalRequests, stats.SuccessfulRequests, stats.FailedRequests,
		stats.ChallengeDetections, stats.ChallengeSolves, stats.MemoryPeakMB, stats.CPUPeakPercent,
		stats.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert stats: %w", err)
	}
	return nil
}

// RecordAlert appends one alert log row.
func (s *Store) RecordAlert(ctx context.Context, taskID string, alert automation.Alert) error {
	query := `
INSERT INTO alerts (task_id, task_name, rule, severity, message, created_at)
VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := s.pool.Exec(ctx, query,
		taskID, alert.TaskName, alert.Rule, string(alert.Severity), alert.Message, alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// ListAlerts returns the task's alert log in firing order.
func (s *Store) ListAlerts(ctx context.Context, taskID string) ([]automation.Alert, error) {
	query := `
SELECT task_id, task_name, rule, severity, message, created_at
FROM alerts WHERE task_id = $1 ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("select alerts: %w", err)
	}
	defer rows.Close()

	var out []automation.Alert
	for rows.Next() {
		var (
			alert    automation.Alert
			severity string
		)
		if err := rows.Scan(&alert.TaskID, &alert.TaskName, &alert.Rule, &severity, &alert.Message, &alert.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alert.Severity = automation.AlertSeverity(severity)
		out = append(out, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

func normalizeMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
