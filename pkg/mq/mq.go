package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"fuzzdeck/config"
	"fuzzdeck/internal/types"
)

const EventQueueName = "fuzzdeck_events"

// Publisher emits orchestration lifecycle events for external consumers.
// The implementation is a no-op when no broker is configured.
type Publisher interface {
	Publish(ctx context.Context, event types.Event)
}

type PublisherParams struct {
	fx.In

	Config    *config.AppConfig
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

func NewPublisher(p PublisherParams) Publisher {
	if p.Config.RabbitMQURL == "" {
		p.Logger.Debug("no RABBITMQ_URL set, event publishing disabled")
		return &noopPublisher{}
	}

	pub := &amqpPublisher{
		logger: p.Logger,
		url:    p.Config.RabbitMQURL,
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return pub.connect()
		},
		OnStop: func(ctx context.Context) error {
			return pub.close()
		},
	})
	return pub
}

type noopPublisher struct{}

func (n *noopPublisher) Publish(ctx context.Context, event types.Event) {}

// NewNoopPublisher returns a publisher that drops everything. It backs the
// no-broker configuration and stands in for the real thing in tests.
func NewNoopPublisher() Publisher {
	return &noopPublisher{}
}

type amqpPublisher struct {
	logger *zap.Logger
	url    string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func (a *amqpPublisher) connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	conn, err := amqp.Dial(a.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open rabbitmq channel: %w", err)
	}

	// declare the queue (idempotent)
	if _, err := channel.QueueDeclare(
		EventQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("declare event queue: %w", err)
	}

	a.conn = conn
	a.channel = channel
	a.logger.Debug("connected to rabbitmq", zap.String("queue", EventQueueName))
	return nil
}

// Publish sends one event. Failures are logged and swallowed: event delivery
// never affects the orchestration result.
func (a *amqpPublisher) Publish(ctx context.Context, event types.Event) {
	body, err := json.Marshal(event)
	if err != nil {
		a.logger.Error("failed to marshal event", zap.Error(err))
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.channel == nil {
		return
	}
	err = a.channel.PublishWithContext(ctx,
		"",             // default exchange
		EventQueueName, // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        body,
		})
	if err != nil {
		a.logger.Warn("failed to publish event",
			zap.String("kind", event.Kind), zap.Error(err))
	}
}

func (a *amqpPublisher) close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.channel != nil {
		a.channel.Close()
		a.channel = nil
	}
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	return nil
}
