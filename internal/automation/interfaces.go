package automation

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when an entity does not exist.
var ErrNotFound = errors.New("not found")

// TaskStore persists tasks, page events, detections, stats and alert logs.
type TaskStore interface {
	CreateTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, taskID string) (Task, error)
	UpdateTask(ctx context.Context, task Task) error
	ListTasks(ctx context.Context, statuses ...TaskStatus) ([]Task, error)

	RecordPageVisit(ctx context.Context, event PageVisitEvent) error
	ListPageVisits(ctx context.Context, taskID string) ([]PageVisitEvent, error)

	RecordDetection(ctx context.Context, det ChallengeDetection) error
	LatestDetection(ctx context.Context, taskID string) (ChallengeDetection, error)
	UpdateDetection(ctx context.Context, det ChallengeDetection) error

	// GetOrCreateStats returns the stats row for the task, creating an
	// empty one when absent.
	GetOrCreateStats(ctx context.Context, taskID string) (Stats, error)
	UpdateStats(ctx context.Context, stats Stats) error

	RecordAlert(ctx context.Context, taskID string, alert Alert) error
	ListAlerts(ctx context.Context, taskID string) ([]Alert, error)
}

// Driver is one live browser-control session. Implementations are
// single-threaded by nature; a session is owned by exactly one task run.
type Driver interface {
	// Navigate loads url, bounded by timeout. Navigation failures and
	// timeouts are retryable at per-page granularity.
	Navigate(ctx context.Context, url string, timeout time.Duration) (PageInfo, error)
	HTML(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	BodyText(ctx context.Context) (string, error)
	// MatchCount counts DOM elements matching a CSS selector on the
	// current page.
	MatchCount(ctx context.Context, selector string) (int, error)
	// FrameSources lists the src attribute of every embedded frame.
	FrameSources(ctx context.Context) ([]string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

// DriverFactory opens driver sessions configured per task.
type DriverFactory interface {
	NewSession(ctx context.Context, cfg BrowserConfig) (Driver, error)
}

// Queue provides at-least-once delivery of task ids to workers.
type Queue interface {
	Enqueue(ctx context.Context, ref TaskRef) error
	Dequeue(ctx context.Context) (TaskRef, error)
}

// Notifier delivers alert text best-effort. Failures must never abort
// orchestration; callers log and move on.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// BlobStore writes raw artifacts (screenshots) and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces entity IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
