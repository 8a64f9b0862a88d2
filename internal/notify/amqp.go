package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/logging"
)

var (
	// ErrPublishNacked is returned when the broker negatively acknowledges a message.
	ErrPublishNacked = errors.New("message nacked by broker")
	// ErrConfirmTimeout is returned when the broker does not confirm in time.
	ErrConfirmTimeout = errors.New("timed out waiting for publish confirmation")
	// ErrPublisherClosed is returned after Close or when the confirm stream ends.
	ErrPublisherClosed = errors.New("publisher closed")
)

// Channel is the subset of *amqp.Channel used by AMQPPublisher.
type Channel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPConfig configures the AMQP publisher.
type AMQPConfig struct {
	// Exchange is the topic exchange events are published to.
	Exchange string
	// ConfirmTimeout bounds the wait for each broker confirmation.
	ConfirmTimeout time.Duration
}

// DefaultAMQPConfig returns default AMQP configuration.
func DefaultAMQPConfig() AMQPConfig {
	return AMQPConfig{
		Exchange:       "ledger.events",
		ConfirmTimeout: 5 * time.Second,
	}
}

// AMQPPublisher publishes each event as a persistent JSON message routed by
// "ledger.<kind>" and waits for the broker to confirm it.
type AMQPPublisher struct {
	config AMQPConfig
	logger *zap.Logger
	conn   *amqp.Connection // nil when built over a caller-owned channel

	mu       sync.Mutex
	ch       Channel
	confirms chan amqp.Confirmation
	closed   bool
}

// DialAMQP connects to url, declares the exchange and returns a publisher.
func DialAMQP(url string, config *AMQPConfig, logger *zap.Logger) (*AMQPPublisher, error) {
	cfg := DefaultAMQPConfig()
	if config != nil {
		cfg = *config
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}

	p, err := NewAMQPPublisher(ch, &cfg, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewAMQPPublisher puts ch into confirm mode and returns a publisher over it.
func NewAMQPPublisher(ch Channel, config *AMQPConfig, logger *zap.Logger) (*AMQPPublisher, error) {
	cfg := DefaultAMQPConfig()
	if config != nil {
		cfg = *config
	}
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	return &AMQPPublisher{
		config:   cfg,
		logger:   logging.OrNop(logger).Named("amqp"),
		ch:       ch,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
	}, nil
}

func (p *AMQPPublisher) Name() string { return "amqp" }

// Publish sends events in order, one confirmed message at a time.
func (p *AMQPPublisher) Publish(ctx context.Context, events []*domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}

	for _, e := range events {
		body, err := encode(e)
		if err != nil {
			return fmt.Errorf("encode event %d: %w", e.Seq, err)
		}
		msg := amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    e.ID,
			Timestamp:    time.UnixMilli(e.Timestamp),
			Type:         string(e.Kind),
			Body:         body,
		}
		if err := p.ch.PublishWithContext(ctx, p.config.Exchange, "ledger."+string(e.Kind), false, false, msg); err != nil {
			return fmt.Errorf("publish event %d: %w", e.Seq, err)
		}
		if err := p.waitForConfirm(ctx); err != nil {
			return fmt.Errorf("publish event %d: %w", e.Seq, err)
		}
	}
	p.logger.Debug("published events", zap.Int("count", len(events)))
	return nil
}

func (p *AMQPPublisher) waitForConfirm(ctx context.Context) error {
	timeout := time.NewTimer(p.config.ConfirmTimeout)
	defer timeout.Stop()

	select {
	case confirmed, ok := <-p.confirms:
		if !ok {
			return ErrPublisherClosed
		}
		if !confirmed.Ack {
			return fmt.Errorf("%w: delivery_tag=%d", ErrPublishNacked, confirmed.DeliveryTag)
		}
		return nil
	case <-timeout.C:
		return ErrConfirmTimeout
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	}
}

// Close closes the channel and, when dialed by DialAMQP, the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	err := p.ch.Close()
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}
