package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"PriceWatch/internal/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config selects the broker alerts are handed to. An empty URL logs alerts
// instead of publishing them.
type Config struct {
	URL   string `yaml:"url" env:"RABBITMQ_URL"`
	Queue string `yaml:"queue" env:"RABBITMQ_ALERT_QUEUE" env-default:"pricewatch.alerts"`
}

// RabbitMQ publishes JSON messages to a durable queue.
type RabbitMQ struct {
	mu        sync.Mutex
	conn      *amqp.Connection
	ch        *amqp.Channel
	queueName string
}

// DialRabbitMQ connects to url and declares the durable queue.
func DialRabbitMQ(url, queueName string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq declare %s: %w", queueName, err)
	}

	return &RabbitMQ{
		conn:      conn,
		ch:        ch,
		queueName: queueName,
	}, nil
}

// PublishJSON marshals msg and publishes it as a persistent message.
func (r *RabbitMQ) PublishJSON(ctx context.Context, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishing.
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ch.PublishWithContext(
		ctx,
		"",
		r.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// Close closes the channel and the connection.
func (r *RabbitMQ) Close() error {
	if err := r.ch.Close(); err != nil {
		return err
	}
	return r.conn.Close()
}

// LogPublisher writes messages to the log. It stands in for a broker in
// development.
type LogPublisher struct {
	Log logger.Logger
}

// PublishJSON logs msg as JSON.
func (p LogPublisher) PublishJSON(_ context.Context, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	p.Log.Info("Alert", logger.String("message", string(body)))
	return nil
}

// Close is a no-op.
func (LogPublisher) Close() error { return nil }
