package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"beaconattend/internal/logging"
)

// AMQPQueue publishes to and consumes from a durable RabbitMQ queue.
type AMQPQueue struct {
	url  string
	name string
	log  *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPQueue creates a queue bound to name. Connections are opened lazily.
func NewAMQPQueue(url, name string, logger *slog.Logger) *AMQPQueue {
	if name == "" {
		name = "attendance.observations"
	}
	return &AMQPQueue{url: url, name: name, log: logging.OrDefault(logger)}
}

func (q *AMQPQueue) open() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(q.url)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(q.name, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp queue declare: %w", err)
	}
	return conn, ch, nil
}

// Publish sends msg as a persistent delivery. The publishing channel is
// reopened after the broker drops it.
func (q *AMQPQueue) Publish(ctx context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ch == nil || q.ch.IsClosed() {
		if q.conn != nil {
			_ = q.conn.Close()
		}
		conn, ch, err := q.open()
		if err != nil {
			return err
		}
		q.conn, q.ch = conn, ch
	}
	return q.ch.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         msg.Type,
		MessageId:    msg.ID,
		Timestamp:    time.Now().UTC(),
		Body:         msg.Body,
	})
}

// Consume opens a dedicated connection and reconnects with backoff until ctx ends.
func (q *AMQPQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		backoff := time.Second
		for ctx.Err() == nil {
			err := q.consumeOnce(ctx, out)
			if ctx.Err() != nil {
				return
			}
			q.log.Warn("amqp consumer stopped, reconnecting", "err", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}()
	return out, nil
}

func (q *AMQPQueue) consumeOnce(ctx context.Context, out chan<- Message) error {
	conn, ch, err := q.open()
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		q.log.Warn("amqp qos failed", "err", err)
	}
	deliveries, err := ch.Consume(q.name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("amqp deliveries closed")
			}
			select {
			case out <- Message{Type: d.Type, ID: d.MessageId, Body: d.Body}:
				_ = d.Ack(false)
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return ctx.Err()
			}
		}
	}
}

// Close releases the publishing connection.
func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.conn == nil {
		return nil
	}
	err := q.conn.Close()
	q.conn, q.ch = nil, nil
	return err
}
