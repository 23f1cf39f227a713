// Package frontier implements the pending-URL work queue for one task run.
package frontier

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ErrEmpty is returned by Pop when no URLs are pending.
var ErrEmpty = errors.New("frontier empty")

// defaultCapacity bounds the pending queue; pushes beyond it are dropped
// and links are never guaranteed to be revisited.
const defaultCapacity = 100

// skipExtensions lists path extensions that are never worth fetching.
var skipExtensions = map[string]struct{}{
	".pdf":  {},
	".doc":  {},
	".docx": {},
	".xls":  {},
	".xlsx": {},
	".zip":  {},
	".rar":  {},
}

// skipPrefixes filters non-navigable link targets.
var skipPrefixes = []string{"#", "javascript:", "mailto:", "tel:"}

// Frontier is a FIFO queue of absolute URLs scoped to one origin host.
// It is task-local and not safe for concurrent use; each task run owns
// exactly one Frontier.
type Frontier struct {
	origin   string
	pending  []string
	seen     map[string]struct{}
	capacity int
}

// New builds a Frontier for the task's start URL and seeds it with that URL.
func New(startURL string) (*Frontier, error) {
	u, err := url.Parse(startURL)
	if err != nil {
		return nil, fmt.Errorf("parse start url: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("start url %q has no host", startURL)
	}
	f := &Frontier{
		origin:   strings.ToLower(u.Hostname()),
		seen:     make(map[string]struct{}),
		capacity: defaultCapacity,
	}
	f.pending = append(f.pending, startURL)
	f.seen[startURL] = struct{}{}
	return f, nil
}

// Push enqueues a candidate URL. It is a no-op (returning false) when the
// URL was already pushed this run, belongs to a different host, carries a
// skipped extension or prefix, or the queue is at capacity.
func (f *Frontier) Push(raw string) bool {
	if _, dup := f.seen[raw]; dup {
		return false
	}
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(raw, prefix) {
			return false
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if !strings.EqualFold(u.Hostname(), f.origin) {
		return false
	}
	if ext := strings.ToLower(path.Ext(u.Path)); ext != "" {
		if _, skip := skipExtensions[ext]; skip {
			return false
		}
	}
	if len(f.pending) >= f.capacity {
		return false
	}
	f.seen[raw] = struct{}{}
	f.pending = append(f.pending, raw)
	return true
}

// Pop returns and removes the head of the queue, or ErrEmpty.
func (f *Frontier) Pop() (string, error) {
	if len(f.pending) == 0 {
		return "", ErrEmpty
	}
	head := f.pending[0]
	f.pending = f.pending[1:]
	return head, nil
}

// Len reports the number of pending URLs.
func (f *Frontier) Len() int {
	return len(f.pending)
}
