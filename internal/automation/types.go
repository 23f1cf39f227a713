// Package automation defines core types shared across subsystems.
package automation

import (
	"time"
)

// TaskPriority orders queued tasks for human operators; execution itself is FIFO.
type TaskPriority string

// Task priority values persisted in the task store.
const (
	PriorityLow    TaskPriority = "LOW"
	PriorityNormal TaskPriority = "NORMAL"
	PriorityHigh   TaskPriority = "HIGH"
	PriorityUrgent TaskPriority = "URGENT"
)

// BrowserConfig captures per-task driver session settings.
type BrowserConfig struct {
	Headless   bool          `json:"headless"`
	WindowSize string        `json:"window_size"`
	UserAgent  string        `json:"user_agent"`
	Timeout    time.Duration `json:"timeout"`
}

// Task represents one logical site-exploration request. It is created
// externally, owned and mutated only by the orchestrator run that is
// currently executing it, and destroyed by the retention job.
type Task struct {
	ID                string        `json:"id"`
	Name              string        `json:"name,omitempty"`
	StartURL          string        `json:"start_url"`
	MaxPages          int           `json:"max_pages"`
	MaxDepth          int           `json:"max_depth"`
	Delay             time.Duration `json:"delay_between_requests"`
	Browser           BrowserConfig `json:"browser"`
	Status            TaskStatus    `json:"status"`
	Priority          TaskPriority  `json:"priority"`
	CreatedAt         time.Time     `json:"created_at"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	FinishedAt        *time.Time    `json:"finished_at,omitempty"`
	TotalPagesVisited int           `json:"total_pages_visited"`
	TotalErrors       int           `json:"total_errors"`
	Notes             string        `json:"notes,omitempty"`
	ErrorMessage      string        `json:"error_message,omitempty"`
}

// PageVisitEvent is persisted for each page visit attempt that produced a
// page, in strict visit order. Append-only once created.
type PageVisitEvent struct {
	ID            string            `json:"id"`
	TaskID        string            `json:"task_id"`
	URL           string            `json:"url"`
	StatusCode    int               `json:"status_code"`
	LoadTime      time.Duration     `json:"load_time"`
	Title         string            `json:"title"`
	ScreenshotURI string            `json:"screenshot_uri,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// DetectionStatus tracks the lifecycle of a recorded challenge.
type DetectionStatus string

// Detection status values. A detection starts DETECTED and is resolved
// externally; the service never solves challenges itself.
const (
	DetectionDetected DetectionStatus = "DETECTED"
	DetectionSolved   DetectionStatus = "SOLVED"
	DetectionFailed   DetectionStatus = "FAILED"
	DetectionSkipped  DetectionStatus = "SKIPPED"
)

// ChallengeDetection records a human-verification challenge that halted a
// task, referencing the page event that triggered it.
type ChallengeDetection struct {
	ID               string          `json:"id"`
	TaskID           string          `json:"task_id"`
	PageEventID      string          `json:"page_event_id"`
	Type             string          `json:"type"`
	Confidence       float64         `json:"confidence"`
	Status           DetectionStatus `json:"status"`
	MatchedSelectors []string        `json:"matched_selectors,omitempty"`
	MatchedFrames    []string        `json:"matched_frames,omitempty"`
	MatchedText      []string        `json:"matched_text,omitempty"`
	Recommendation   string          `json:"recommendation,omitempty"`
	DetectedAt       time.Time       `json:"detected_at"`
	ResolvedBy       string          `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
}

// Stats holds the running totals for one task, one row per task.
type Stats struct {
	TaskID              string    `json:"task_id"`
	TotalRequests       int       `json:"total_requests"`
	SuccessfulRequests  int       `json:"successful_requests"`
	FailedRequests      int       `json:"failed_requests"`
	ChallengeDetections int       `json:"captcha_detections"`
	ChallengeSolves     int       `json:"captcha_solves"`
	MemoryPeakMB        float64   `json:"memory_peak"`
	CPUPeakPercent      float64   `json:"cpu_usage_peak"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// SuccessRate returns successful/total as a percentage, 0 when no requests.
func (s Stats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.SuccessfulRequests) / float64(s.TotalRequests) * 100
}

// SolveRate returns solves/detections as a percentage, 0 when no detections.
func (s Stats) SolveRate() float64 {
	if s.ChallengeDetections == 0 {
		return 0
	}
	return float64(s.ChallengeSolves) / float64(s.ChallengeDetections) * 100
}

// AlertSeverity grades recorded alerts.
type AlertSeverity string

// Alert severities, lowest to highest.
const (
	SeverityInfo    AlertSeverity = "info"
	SeverityWarning AlertSeverity = "warning"
	SeverityError   AlertSeverity = "error"
)

// Alert is the payload delivered to notification sinks when a rule fires.
type Alert struct {
	TaskID    string        `json:"task_id"`
	TaskName  string        `json:"task_name,omitempty"`
	Rule      string        `json:"rule"`
	Severity  AlertSeverity `json:"severity"`
	Message   string        `json:"message"`
	CreatedAt time.Time     `json:"created_at"`
}

// PageInfo is returned by a Driver navigation.
type PageInfo struct {
	StatusCode int
	LoadTime   time.Duration
}

// TaskRef wraps a task id ready to run on the queue.
type TaskRef struct {
	TaskID    string
	Attempt   int
	Submitted int64
}
