// Package pubsub implements alert delivery over Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/autorunner/internal/automation"
)

// Notifier publishes alerts to a Pub/Sub topic.
type Notifier struct {
	topic *pubsub.Topic
}

// New creates a Notifier for the provided topic.
func New(topic *pubsub.Topic) *Notifier {
	return &Notifier{topic: topic}
}

// Notify marshals the alert to JSON and publishes it. The rule, severity
// and task id travel as attributes so subscribers can filter without
// decoding the payload.
func (n *Notifier) Notify(ctx context.Context, alert automation.Alert) error {
	if n.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	result := n.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"rule":     alert.Rule,
			"severity": string(alert.Severity),
			"task_id":  alert.TaskID,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}
