package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// channel is the part of *amqp.Channel the sender uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSender publishes verification messages as persistent JSON to a
// durable queue on the default exchange.
type AMQPSender struct {
	conn  *amqp.Connection
	ch    channel
	queue string
	now   func() time.Time
}

// DialAMQP connects to the broker and declares queue.
func DialAMQP(url, queue string) (*AMQPSender, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp declare %s: %w", queue, err)
	}

	s := NewAMQPSender(ch, queue)
	s.conn = conn
	return s, nil
}

func NewAMQPSender(ch channel, queue string) *AMQPSender {
	return &AMQPSender{ch: ch, queue: queue, now: time.Now}
}

func (s *AMQPSender) SendVerification(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode mail message: %w", err)
	}

	err = s.ch.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    s.now(),
		Type:         "email.verification",
		Expiration:   expiration(msg.ExpiresAt.Sub(s.now())),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", s.queue, err)
	}
	return nil
}

// expiration formats a per-message TTL in milliseconds. A code that has
// already expired is not worth delivering, so it gets the smallest TTL.
func expiration(ttl time.Duration) string {
	ms := ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return fmt.Sprintf("%d", ms)
}

func (s *AMQPSender) Close() error {
	var errs []error
	if err := s.ch.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
