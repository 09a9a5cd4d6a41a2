package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"metamarket.backend/internal/domain/entities"
	"metamarket.backend/pkg/logger"
)

const (
	DefaultExchange = "metamarket.purchases"

	ProgressRoutingKeyPrefix = "purchase.progress."
	ResultRoutingKeyPrefix   = "purchase.result."
)

// amqpChannel is the subset of *amqp.Channel the publisher needs
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

var dialAMQP = func(url string) (*amqp.Connection, amqpChannel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// Config for the purchase event publisher
type Config struct {
	URL      string
	Exchange string
	// ConnectRetries is the number of dial attempts before giving up
	ConnectRetries int
}

// PurchaseEvent is the envelope published for every progress event and result
type PurchaseEvent struct {
	Type      string                   `json:"type"`
	ProductID uint64                   `json:"productId"`
	Progress  *entities.ProgressEvent  `json:"progress,omitempty"`
	Result    *entities.PurchaseResult `json:"result,omitempty"`
	SentAt    time.Time                `json:"sentAt"`
}

// RabbitPublisher publishes purchase lifecycle events to a topic exchange
type RabbitPublisher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
}

// NewRabbitPublisher dials with backoff and declares the topic exchange
func NewRabbitPublisher(cfg Config) (*RabbitPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = DefaultExchange
	}
	retries := cfg.ConnectRetries
	if retries < 1 {
		retries = 1
	}

	var (
		conn *amqp.Connection
		ch   amqpChannel
		err  error
	)
	for i := 0; i < retries; i++ {
		conn, ch, err = dialAMQP(cfg.URL)
		if err == nil {
			break
		}
		if i < retries-1 {
			wait := time.Duration(i*i)*time.Second + time.Second
			logger.Warn(context.Background(), "Failed to connect to RabbitMQ, retrying",
				zap.Duration("retry_in", wait),
				zap.Error(err),
			)
			time.Sleep(wait)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", retries, err)
	}

	return newRabbitPublisher(conn, ch, exchange)
}

func newRabbitPublisher(conn *amqp.Connection, ch amqpChannel, exchange string) (*RabbitPublisher, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		if conn != nil {
			_ = conn.Close()
		}
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &RabbitPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

// PublishProgress routes under purchase.progress.<productID>
func (p *RabbitPublisher) PublishProgress(ctx context.Context, productID uint64, event entities.ProgressEvent) error {
	return p.publish(ctx, ProgressRoutingKeyPrefix+strconv.FormatUint(productID, 10), PurchaseEvent{
		Type:      "progress",
		ProductID: productID,
		Progress:  &event,
		SentAt:    time.Now().UTC(),
	})
}

// PublishResult routes under purchase.result.<state>
func (p *RabbitPublisher) PublishResult(ctx context.Context, result *entities.PurchaseResult) error {
	if result == nil {
		return nil
	}
	return p.publish(ctx, ResultRoutingKeyPrefix+string(result.State), PurchaseEvent{
		Type:      "result",
		ProductID: result.ProductID,
		Result:    result,
		SentAt:    time.Now().UTC(),
	})
}

func (p *RabbitPublisher) publish(ctx context.Context, key string, event PurchaseEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal purchase event: %w", err)
	}
	err = p.channel.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.SentAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s with routing key %s: %w", p.exchange, key, err)
	}
	logger.Debug(ctx, "Published purchase event",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", key),
	)
	return nil
}

// Close closes the channel and the connection
func (p *RabbitPublisher) Close() error {
	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

// NoopPublisher drops every event; used when no broker is configured
type NoopPublisher struct{}

func (NoopPublisher) PublishProgress(context.Context, uint64, entities.ProgressEvent) error {
	return nil
}

func (NoopPublisher) PublishResult(context.Context, *entities.PurchaseResult) error { return nil }

func (NoopPublisher) Close() error { return nil }
