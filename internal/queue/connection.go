// Package queue owns the RabbitMQ side of the worker: the broker connection
// handle, the email.queue consumer with its ack discipline, the publisher
// used for dead-letter records and the dead-letter replay used by courierctl.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"courier/internal/types"
)

const heartbeat = 10 * time.Second

// ErrConnectionClosed is returned by Ping once the broker connection is gone.
var ErrConnectionClosed = errors.New("queue: broker connection closed")

// Connection is the explicitly owned broker connection. It is created once in
// main, shared by the consumer and publisher channels, and closed on shutdown.
type Connection struct {
	conn   *amqp.Connection
	logger *slog.Logger
}

var (
	_ types.Closer = (*Connection)(nil)
	_ types.Pinger = (*Connection)(nil)
)

// Dial connects to the broker at url. name is reported to the broker as the
// connection name.
func Dial(url, name string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Properties: amqp.Table{
			"connection_name": name,
		},
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamBroker, "failed to connect to broker", err)
	}

	c := &Connection{conn: conn, logger: logger}
	go c.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))
	return c, nil
}

func (c *Connection) watch(closed <-chan *amqp.Error) {
	if err, ok := <-closed; ok && err != nil {
		c.logger.Error("broker connection lost",
			"code", err.Code,
			"reason", err.Reason,
			"server", err.Server,
		)
	}
}

// Channel opens a new channel on the connection.
func (c *Connection) Channel() (*amqp.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamBroker, "failed to open broker channel", err)
	}
	return ch, nil
}

// Ping reports ErrConnectionClosed when the connection has been closed by
// either side.
func (c *Connection) Ping(_ context.Context) error {
	if c.conn.IsClosed() {
		return ErrConnectionClosed
	}
	return nil
}

// Close closes the connection and every channel opened on it.
func (c *Connection) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("queue: closing broker connection: %w", err)
	}
	return nil
}

// QueueDeclarer is the subset of *amqp.Channel needed to declare queues.
type QueueDeclarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

// DeclareDurable declares a durable, non-exclusive queue. Redeclaring an
// existing queue with the same arguments is a no-op on the broker.
func DeclareDurable(ch QueueDeclarer, name string) error {
	if _, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamBroker, fmt.Sprintf("failed to declare queue %s", name), err)
	}
	return nil
}
