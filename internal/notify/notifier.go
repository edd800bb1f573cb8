// Package notify publishes booking lifecycle events for downstream delivery
// (email/push/websocket transports live elsewhere). Publishing is
// fire-and-forget: failures are logged by callers and never roll back the
// core transaction.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Event routing keys published on booking lifecycle transitions.
const (
	EventBookingCreated     = "booking.created"
	EventBookingCompleted   = "booking.completed"
	EventBookingCancelled   = "booking.cancelled"
	EventBookingRescheduled = "booking.rescheduled"
	EventBookingSettled     = "booking.settled"
	EventAppealStarted      = "booking.appeal_started"
	EventAppealResolved     = "booking.appeal_resolved"
)

// Notifier is the notification collaborator contract.
type Notifier interface {
	Publish(ctx context.Context, event string, payload any) error
}

// AMQPNotifier publishes JSON events on a durable topic exchange.
type AMQPNotifier struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewAMQPNotifier(url, exchange string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPNotifier{conn: conn, ch: ch, exchange: exchange}, nil
}

var _ Notifier = (*AMQPNotifier)(nil)

func (n *AMQPNotifier) Publish(ctx context.Context, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	return n.ch.PublishWithContext(ctx, n.exchange, event, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
}

func (n *AMQPNotifier) Close() error {
	if n.ch != nil {
		_ = n.ch.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}

// LogNotifier writes events to the log instead of a broker. Used when no
// AMQP URL is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

var _ Notifier = (*LogNotifier)(nil)

func (n *LogNotifier) Publish(_ context.Context, event string, payload any) error {
	n.logger.Info("booking event", "event", event, "payload", payload)
	return nil
}
