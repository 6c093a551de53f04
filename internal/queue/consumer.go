package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"courier/internal/notifications/core"
	"courier/internal/types"
)

// ErrDeliveriesClosed is returned by Run when the broker closes the delivery
// stream without a shutdown being requested.
var ErrDeliveriesClosed = errors.New("queue: delivery channel closed by broker")

// Handler processes one message body. A nil error acknowledges the message;
// any error requeues it. Implemented by *core.Orchestrator.
type Handler interface {
	Handle(ctx context.Context, body []byte) (core.Outcome, error)
}

// ConsumerChannel is the subset of *amqp.Channel used by the consumer.
type ConsumerChannel interface {
	QueueDeclarer
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
}

var _ ConsumerChannel = (*amqp.Channel)(nil)

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Queue        string
	Tag          string
	Prefetch     int
	DrainTimeout time.Duration
	Metrics      core.NotificationMetrics
	Logger       *slog.Logger
	Now          func() time.Time
}

// Consumer reads email jobs with manual acknowledgement and runs each one on
// its own goroutine. At most Prefetch handlers run at once, matching the
// broker-side basic.qos limit.
type Consumer struct {
	ch      ConsumerChannel
	handler Handler
	cfg     ConsumerConfig
	logger  *slog.Logger
	metrics core.NotificationMetrics
	now     func() time.Time
}

// NewConsumer creates a consumer on ch.
func NewConsumer(ch ConsumerChannel, handler Handler, cfg ConsumerConfig) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	if cfg.Tag == "" {
		cfg.Tag = "courier"
	}
	c := &Consumer{
		ch:      ch,
		handler: handler,
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = core.NoopMetrics{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Run consumes until ctx is canceled or the broker closes the stream.
//
// On shutdown it cancels the broker subscription, waits up to DrainTimeout
// for in-flight handlers, then cancels their context and waits for them to
// return. Messages left unacknowledged are requeued by the broker when the
// channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamBroker, "failed to set prefetch", err)
	}
	if err := DeclareDurable(c.ch, c.cfg.Queue); err != nil {
		return err
	}
	deliveries, err := c.ch.Consume(
		c.cfg.Queue,
		c.cfg.Tag,
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamBroker, fmt.Sprintf("failed to consume %s", c.cfg.Queue), err)
	}

	c.logger.Info("consumer started",
		"queue", c.cfg.Queue,
		"consumer_tag", c.cfg.Tag,
		"prefetch", c.cfg.Prefetch,
	)

	// Handlers outlive ctx until the drain deadline.
	procCtx, cancelProc := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelProc()

	sem := make(chan struct{}, c.cfg.Prefetch)
	var wg sync.WaitGroup
	runErr := c.loop(ctx, procCtx, deliveries, sem, &wg)

	if runErr == nil {
		if err := c.ch.Cancel(c.cfg.Tag, false); err != nil {
			c.logger.Warn("failed to cancel consumer", "error", err.Error())
		}
	}
	c.drain(&wg, cancelProc)
	return runErr
}

func (c *Consumer) loop(ctx, procCtx context.Context, deliveries <-chan amqp.Delivery, sem chan struct{}, wg *sync.WaitGroup) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sem <- struct{}{}:
		}

		select {
		case <-ctx.Done():
			<-sem
			return nil
		case d, ok := <-deliveries:
			if !ok {
				<-sem
				return ErrDeliveriesClosed
			}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				c.process(procCtx, d)
			}(d)
		}
	}
}

func (c *Consumer) drain(wg *sync.WaitGroup, cancelProc context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(c.cfg.DrainTimeout)
	defer timer.Stop()

	select {
	case <-done:
		c.logger.Info("consumer drained")
	case <-timer.C:
		c.logger.Warn("drain timeout reached, interrupting in-flight messages",
			"drain_timeout", c.cfg.DrainTimeout.String(),
		)
		cancelProc()
		<-done
	}
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	if !d.Timestamp.IsZero() {
		c.metrics.RecordQueueLag(ctx, core.QueueLag(d.Timestamp, c.now()))
	}

	outcome, err := c.handler.Handle(ctx, d.Body)
	logger := c.logger.With(
		"delivery_tag", d.DeliveryTag,
		"redelivered", d.Redelivered,
		"outcome", string(outcome),
	)

	if err != nil {
		logger.Warn("message requeued", "error", err.Error())
		if nackErr := d.Nack(false, true); nackErr != nil {
			logger.Error("failed to nack message", "error", nackErr.Error())
		}
		return
	}
	if ackErr := d.Ack(false); ackErr != nil {
		logger.Error("failed to ack message", "error", ackErr.Error())
	}
}
