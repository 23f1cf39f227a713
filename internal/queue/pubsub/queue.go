// Package pubsub provides a Google Cloud Pub/Sub backed task queue.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/autorunner/internal/automation"
)

// Queue publishes task refs to a topic and streams them back from a
// subscription. Messages are acked on hand-off to a worker; redelivery
// of failed attempts is the worker's job, so a crashed worker loses at
// most its in-flight task.
type Queue struct {
	topic  *pubsub.Topic
	msgs   chan automation.TaskRef
	stop   context.CancelFunc
	done   chan struct{}
	logger *zap.Logger
}

// New verifies the topic and subscription exist and starts the receive
// loop. The loop outlives ctx; stop it with Close.
func New(ctx context.Context, client *pubsub.Client, topicID, subscriptionID string, buffer int, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %q: %w", topicID, err)
	}
	if !ok {
		return nil, fmt.Errorf("pubsub topic %q does not exist", topicID)
	}
	sub := client.Subscription(subscriptionID)
	ok, err = sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription %q: %w", subscriptionID, err)
	}
	if !ok {
		return nil, fmt.Errorf("pubsub subscription %q does not exist", subscriptionID)
	}
	if buffer <= 0 {
		buffer = 1
	}
	recvCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	q := &Queue{
		topic:  topic,
		msgs:   make(chan automation.TaskRef, buffer),
		stop:   stop,
		done:   make(chan struct{}),
		logger: logger,
	}
	go q.receive(recvCtx, sub)
	return q, nil
}

func (q *Queue) receive(ctx context.Context, sub *pubsub.Subscription) {
	defer close(q.done)
	err := sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var ref automation.TaskRef
		if err := json.Unmarshal(msg.Data, &ref); err != nil {
			q.logger.Warn("dropping malformed queue message", zap.Error(err))
			msg.Ack()
			return
		}
		select {
		case q.msgs <- ref:
			msg.Ack()
		case <-ctx.Done():
			msg.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		q.logger.Error("subscription receive stopped", zap.Error(err))
	}
}

// Enqueue publishes the ref and waits for the server ack.
func (q *Queue) Enqueue(ctx context.Context, ref automation.TaskRef) error {
	data, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("encode task ref: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"task_id": ref.TaskID},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish task ref: %w", err)
	}
	return nil
}

// Dequeue blocks until a ref arrives or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (automation.TaskRef, error) {
	select {
	case <-ctx.Done():
		return automation.TaskRef{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case ref := <-q.msgs:
		return ref, nil
	}
}

// Close stops the receive loop and flushes pending publishes.
func (q *Queue) Close() {
	q.stop()
	<-q.done
	q.topic.Stop()
}
