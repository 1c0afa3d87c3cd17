package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange quiz events are published to.
const DefaultExchange = "quiz.events"

// AMQPPublisher publishes events to a RabbitMQ topic exchange. It is a no-op
// when constructed with an empty URL.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	enabled  bool
}

// NewAMQPPublisher connects to url and declares a durable topic exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if url == "" {
		slog.Warn("AMQP URL is empty, event publishing is disabled")
		return &AMQPPublisher{exchange: exchange}, nil
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	slog.Info("event publisher ready", "exchange", exchange)
	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange, enabled: true}, nil
}

func (p *AMQPPublisher) PublishQuizCompleted(ctx context.Context, e QuizCompleted) error {
	if !p.enabled {
		slog.Debug("event publishing disabled, skipping", "event", TypeQuizCompleted, "session_id", e.SessionID)
		return nil
	}
	e.EventType = TypeQuizCompleted
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx, p.exchange, TypeQuizCompleted, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    e.SessionID,
		Body:         body,
		Headers: amqp.Table{
			"event_type": TypeQuizCompleted,
			"student_id": e.StudentID,
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", TypeQuizCompleted, err)
	}
	slog.Info("published event", "event", TypeQuizCompleted, "session_id", e.SessionID)
	return nil
}

func (p *AMQPPublisher) Close() error {
	if !p.enabled {
		return nil
	}
	if err := p.channel.Close(); err != nil {
		slog.Warn("failed to close AMQP channel", "error", err)
	}
	return p.conn.Close()
}
