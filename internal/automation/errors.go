package automation

import (
	"errors"
	"fmt"
)

// ErrTaskCancelled is the cancellation cause attached to a running task's
// context when an external cancel request arrives.
var ErrTaskCancelled = errors.New("task cancelled")

// ErrTaskPaused is the cancellation cause used when a running task is
// paused rather than cancelled; the task stays restartable.
var ErrTaskPaused = errors.New("task paused")

// TransientFetchError wraps a per-page navigation failure. It is counted
// against failed_requests and the crawl loop continues; it is never fatal
// to the task.
type TransientFetchError struct {
	URL string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// FatalError marks an unrecoverable orchestration failure: the task moves
// to FAILED with the captured message.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
