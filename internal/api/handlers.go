package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/autorunner/internal/automation"
)

type createTaskRequest struct {
	Name         string            `json:"name"`
	StartURL     string            `json:"start_url"`
	MaxPages     int               `json:"max_pages"`
	MaxDepth     int               `json:"max_depth"`
	DelaySeconds float64           `json:"delay_seconds"`
	Priority     string            `json:"priority"`
	Notes        string            `json:"notes"`
	Browser      *browserOverrides `json:"browser"`
}

type browserOverrides struct {
	Headless       *bool   `json:"headless"`
	WindowSize     string  `json:"window_size"`
	UserAgent      string  `json:"user_agent"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

type solveRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	task, err := s.toTask(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.CreateTask(r.Context(), task); err != nil {
		s.logger.Error("create task failed", zap.Error(err))
		writeError(w, statusFromError(err), "failed to create task")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"task": task})
}

func (s *Server) toTask(req createTaskRequest) (automation.Task, error) {
	req.StartURL = strings.TrimSpace(req.StartURL)
	if req.StartURL == "" {
		return automation.Task{}, errors.New("start_url required")
	}
	u, err := url.Parse(req.StartURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return automation.Task{}, errors.New("start_url must be an absolute http(s) URL")
	}
	priority, err := parsePriority(req.Priority)
	if err != nil {
		return automation.Task{}, err
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return automation.Task{}, errors.New("generate task id")
	}

	task := automation.Task{
		ID:        id,
		Name:      req.Name,
		StartURL:  req.StartURL,
		MaxPages:  req.MaxPages,
		MaxDepth:  req.MaxDepth,
		Delay:     time.Duration(req.DelaySeconds * float64(time.Second)),
		Status:    automation.StatusPending,
		Priority:  priority,
		CreatedAt: s.clock.Now(),
		Notes:     req.Notes,
	}
	if task.MaxPages <= 0 {
		task.MaxPages = s.cfg.Tasks.MaxPagesDefault
	}
	if task.MaxDepth <= 0 {
		task.MaxDepth = s.cfg.Tasks.MaxDepthDefault
	}
	if task.Delay <= 0 {
		task.Delay = s.cfg.Tasks.DelayDefault
	}
	task.Browser = s.toBrowserConfig(req.Browser)
	return task, nil
}

func (s *Server) toBrowserConfig(o *browserOverrides) automation.BrowserConfig {
	cfg := automation.BrowserConfig{
		Headless:   s.cfg.Driver.Headless,
		WindowSize: s.cfg.Driver.WindowSize,
		UserAgent:  s.cfg.Driver.UserAgent,
		Timeout:    s.cfg.Driver.NavigationTimeout,
	}
	if o == nil {
		return cfg
	}
	if o.Headless != nil {
		cfg.Headless = *o.Headless
	}
	if o.WindowSize != "" {
		cfg.WindowSize = o.WindowSize
	}
	if o.UserAgent != "" {
		cfg.UserAgent = o.UserAgent
	}
	if o.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(o.TimeoutSeconds * float64(time.Second))
	}
	return cfg
}

func parsePriority(raw string) (automation.TaskPriority, error) {
	if raw == "" {
		return automation.PriorityNormal, nil
	}
	switch p := automation.TaskPriority(strings.ToUpper(raw)); p {
	case automation.PriorityLow, automation.PriorityNormal, automation.PriorityHigh, automation.PriorityUrgent:
		return p, nil
	default:
		return "", errors.New("unknown priority: " + raw)
	}
}

func parseStatuses(raw string) ([]automation.TaskStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	statuses := make([]automation.TaskStatus, 0, len(parts))
	for _, part := range parts {
		status := automation.TaskStatus(strings.ToUpper(strings.TrimSpace(part)))
		switch status {
		case automation.StatusPending, automation.StatusRunning, automation.StatusCaptchaDetected,
			automation.StatusPaused, automation.StatusCompleted, automation.StatusFailed, automation.StatusCancelled:
			statuses = append(statuses, status)
		default:
			return nil, errors.New("unknown status: " + string(status))
		}
	}
	return statuses, nil
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	statuses, err := parseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tasks, err := s.store.ListTasks(r.Context(), statuses...)
	if err != nil {
		s.logger.Error("list tasks failed", zap.Error(err))
		writeError(w, statusFromError(err), "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, statusFromError(err), "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if _, err := s.store.GetTask(r.Context(), taskID); err != nil {
		writeError(w, statusFromError(err), "task not found")
		return
	}
	stats, err := s.store.GetOrCreateStats(r.Context(), taskID)
	if err != nil {
		s.logger.Error("load stats failed", zap.Error(err), zap.String("task_id", taskID))
		writeError(w, statusFromError(err), "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":        stats,
		"success_rate": stats.SuccessRate(),
		"solve_rate":   stats.SolveRate(),
	})
}

func (s *Server) getMonitorSnapshot(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	snapshot, ok := s.monitor.Get(taskID)
	if !ok {
		writeError(w, http.StatusNotFound, "task not monitored")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"monitor": snapshot})
}

func (s *Server) listPageVisits(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if _, err := s.store.GetTask(r.Context(), taskID); err != nil {
		writeError(w, statusFromError(err), "task not found")
		return
	}
	events, err := s.store.ListPageVisits(r.Context(), taskID)
	if err != nil {
		s.logger.Error("list page visits failed", zap.Error(err), zap.String("task_id", taskID))
		writeError(w, statusFromError(err), "failed to list page visits")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) getLatestDetection(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	det, err := s.store.LatestDetection(r.Context(), taskID)
	if err != nil {
		writeError(w, statusFromError(err), "no detection recorded")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"detection": det})
}

func (s *Server) startTask(w http.ResponseWriter, r *http.Request) {
	s.controlAction(w, r, "start", s.control.Start)
}

func (s *Server) restartTask(w http.ResponseWriter, r *http.Request) {
	s.controlAction(w, r, "restart", s.control.Restart)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	s.controlAction(w, r, "cancel", s.control.Cancel)
}

func (s *Server) pauseTask(w http.ResponseWriter, r *http.Request) {
	s.controlAction(w, r, "pause", s.control.Pause)
}

func (s *Server) solveChallenge(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	var req solveRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = "operator"
	}
	if err := s.control.SolveChallenge(r.Context(), taskID, req.ResolvedBy); err != nil {
		s.logger.Warn("solve challenge rejected", zap.Error(err), zap.String("task_id", taskID))
		writeError(w, statusFromError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "action": "solve"})
}

func (s *Server) controlAction(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	op func(ctx context.Context, taskID string) error,
) {
	taskID := chi.URLParam(r, "task_id")
	if err := op(r.Context(), taskID); err != nil {
		s.logger.Warn("task action rejected",
			zap.String("action", action),
			zap.String("task_id", taskID),
			zap.Error(err),
		)
		writeError(w, statusFromError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "action": action})
}
