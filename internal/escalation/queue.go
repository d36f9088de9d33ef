package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/notify"
)

// QueueSink publishes issues to a durable RabbitMQ queue consumed by the back office.
type QueueSink struct {
	ch    notify.Publisher
	queue string
}

// DeclareReviewQueue declares the durable queue issues are published to
func DeclareReviewQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(name, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("could not declare queue %s: %w", name, err)
	}
	return nil
}

func NewQueueSink(ch notify.Publisher, queue string) *QueueSink {
	return &QueueSink{ch: ch, queue: queue}
}

func (s *QueueSink) Name() string { return "rabbitmq" }

func (s *QueueSink) Record(ctx context.Context, issue *domain.ReconciliationIssue) error {
	body, err := json.Marshal(issue)
	if err != nil {
		return fmt.Errorf("could not marshal issue: %w", err)
	}
	return s.ch.PublishWithContext(ctx,
		"", // default exchange routes by queue name
		s.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Type:         string(issue.Kind),
			Body:         body,
		},
	)
}
