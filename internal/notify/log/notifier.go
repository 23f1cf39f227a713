// Package log implements alert delivery to the service log, the default
// sink when no message broker is configured.
package log

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/autorunner/internal/automation"
)

// Notifier writes alerts to a zap logger.
type Notifier struct {
	logger *zap.Logger
}

// New returns a log Notifier.
func New(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{logger: logger}
}

// Notify logs the alert at a level matching its severity.
func (n *Notifier) Notify(_ context.Context, alert automation.Alert) error {
	fields := []zap.Field{
		zap.String("task_id", alert.TaskID),
		zap.String("rule", alert.Rule),
		zap.String("message", alert.Message),
	}
	switch alert.Severity {
	case automation.SeverityError:
		n.logger.Error("alert", fields...)
	case automation.SeverityWarning:
		n.logger.Warn("alert", fields...)
	default:
		n.logger.Info("alert", fields...)
	}
	return nil
}
