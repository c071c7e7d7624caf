package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpChannel is the part of *amqp.Channel the sink uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes events as persistent JSON messages on a durable queue
// through the default exchange.
type AMQPSink struct {
	conn  *amqp.Connection
	ch    amqpChannel
	queue string
}

// DialAMQP connects with bounded retries and declares the queue.
func DialAMQP(ctx context.Context, url, queue string, log *slog.Logger) (*AMQPSink, error) {
	const maxRetries = 5
	delay := time.Second

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			ch, err := conn.Channel()
			if err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("open channel: %w", err)
			}
			if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
				_ = ch.Close()
				_ = conn.Close()
				return nil, fmt.Errorf("declare queue %s: %w", queue, err)
			}
			log.Info("amqp connected", "action", "amqp_connected", "queue", queue, "attempt", attempt)
			return &AMQPSink{conn: conn, ch: ch, queue: queue}, nil
		}

		lastErr = err
		log.Warn("amqp connection attempt failed",
			"action", "amqp_connection_attempt_failed",
			"attempt", attempt,
			"max_retries", maxRetries,
			"error", err.Error())

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
			delay = delay * 3 / 2
		}
	}
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxRetries, lastErr)
}

func NewAMQPSinkWithChannel(ch amqpChannel, queue string) *AMQPSink {
	return &AMQPSink{ch: ch, queue: queue}
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.ch.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.CreatedAt,
		Type:         string(e.Type),
		Body:         body,
	})
}

func (s *AMQPSink) Close() error {
	err := s.ch.Close()
	if s.conn != nil {
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
