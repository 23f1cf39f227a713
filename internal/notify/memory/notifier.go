// Package memory contains an in-memory notifier for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/autorunner/internal/automation"
)

// Notifier stores delivered alerts for inspection.
type Notifier struct {
	mu     sync.RWMutex
	alerts []automation.Alert
}

// New returns a memory Notifier.
func New() *Notifier {
	return &Notifier{}
}

// Notify records the alert.
func (n *Notifier) Notify(_ context.Context, alert automation.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return nil
}

// Alerts returns the recorded deliveries.
func (n *Notifier) Alerts() []automation.Alert {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]automation.Alert, len(n.alerts))
	copy(out, n.alerts)
	return out
}
