package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
)

// Notifier publishes document progress events. Callers treat publish
// failures as best effort, so no retry machinery lives here.
type Notifier struct {
	conn  *nats.Conn
	topic string
}

func NewNotifier(conn *nats.Conn, topic string) *Notifier {
	return &Notifier{conn: conn, topic: topic}
}

// NotifierFromQueue reuses the queue's connection for progress events.
func NotifierFromQueue(q *Queue, topic string) *Notifier {
	return &Notifier{conn: q.conn, topic: topic}
}

func (n *Notifier) PublishProgress(_ context.Context, event domain.StatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", n.topic, event.TenantID)
	if err := n.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish progress: %w", err)
	}
	return nil
}
