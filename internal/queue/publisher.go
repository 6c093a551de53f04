package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"courier/internal/notifications/core"
	"courier/internal/types"
)

// PublishChannel is the subset of *amqp.Channel used for publishing.
type PublishChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

var _ PublishChannel = (*amqp.Channel)(nil)

// Publisher sends persistent JSON messages to a queue through the default
// exchange. Calls are serialized because a channel carries one frame
// sequence at a time.
type Publisher struct {
	mu     sync.Mutex
	ch     PublishChannel
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher creates a publisher on a dedicated channel.
func NewPublisher(ch PublishChannel, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{ch: ch, logger: logger, now: time.Now}
}

// Publish routes body to queue. The notification id carried in ctx, if any,
// is attached as the x-notification-id header.
func (p *Publisher) Publish(ctx context.Context, queue string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.New().String(),
		Timestamp:    p.now().UTC(),
		Body:         body,
	}
	if id := types.GetRequestID(ctx); id != "" {
		msg.Headers = amqp.Table{"x-notification-id": id}
	}

	p.mu.Lock()
	err := p.ch.Publish(
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		msg,
	)
	p.mu.Unlock()
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamBroker, fmt.Sprintf("publish to %s failed", queue), err)
	}

	p.logger.Debug("message published", "queue", queue, "message_id", msg.MessageId)
	return nil
}

var _ core.DeadLetterPublisher = (*DeadLetterPublisher)(nil)

// DeadLetterPublisher writes dead-letter records to the fixed durable
// dead-letter queue.
type DeadLetterPublisher struct {
	publisher *Publisher
	queue     string
}

// NewDeadLetterPublisher binds p to the dead-letter queue name.
func NewDeadLetterPublisher(p *Publisher, queue string) *DeadLetterPublisher {
	return &DeadLetterPublisher{publisher: p, queue: queue}
}

func (d *DeadLetterPublisher) PublishDeadLetter(ctx context.Context, body []byte) error {
	return d.publisher.Publish(ctx, d.queue, body)
}
