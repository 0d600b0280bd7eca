// Package messaging publishes pharmacy domain events to a RabbitMQ topic
// exchange and consumes the user events that keep the staff directory in
// sync.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/medflow/medflow-pharmacy/pkg/config"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
)

// DeadLetterExchange receives deliveries that ran out of retries.
const DeadLetterExchange = "dlx.events"

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("rabbitmq: connection closed")

const (
	dialBackoff    = time.Second
	maxDialBackoff = 30 * time.Second
)

// RabbitMQ owns one connection and one channel. Both are replaced on
// reconnect, so callers always go through channel().
type RabbitMQ struct {
	cfg *config.RabbitMQConfig
	log *logger.Logger

	dialMu sync.Mutex
	mu     sync.RWMutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// New dials the broker, retrying up to MaxRetries times.
func New(cfg *config.RabbitMQConfig, log *logger.Logger) (*RabbitMQ, error) {
	r := &RabbitMQ{cfg: cfg, log: log.WithComponent("rabbitmq")}
	if err := r.dial(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) dial(ctx context.Context) error {
	attempts := r.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := dialBackoff
	for i := 0; i < attempts; i++ {
		if i > 0 {
			r.log.Warn().Err(lastErr).Int("attempt", i+1).Dur("backoff", delay).Msg("retrying broker connection")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			if delay *= 2; delay > maxDialBackoff {
				delay = maxDialBackoff
			}
		}

		conn, ch, err := open(r.cfg)
		if err != nil {
			lastErr = err
			continue
		}
		r.mu.Lock()
		r.conn, r.ch = conn, ch
		r.mu.Unlock()
		r.log.Info().Msg("connected to broker")
		return nil
	}
	return fmt.Errorf("connect to rabbitmq after %d attempts: %w", attempts, lastErr)
}

func open(cfg *config.RabbitMQConfig) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if cfg.PrefetchCount > 0 {
		if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("set prefetch: %w", err)
		}
	}
	return conn, ch, nil
}

func (r *RabbitMQ) channel() (*amqp.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}
	if r.ch == nil || r.ch.IsClosed() {
		return nil, amqp.ErrClosed
	}
	return r.ch, nil
}

// reconnect replaces a dead connection. Callers that lose the race find the
// connection already restored.
func (r *RabbitMQ) reconnect(ctx context.Context) error {
	r.dialMu.Lock()
	defer r.dialMu.Unlock()

	r.mu.RLock()
	alive := r.conn != nil && !r.conn.IsClosed() && r.ch != nil && !r.ch.IsClosed()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if alive {
		return nil
	}
	return r.dial(ctx)
}

// Close shuts the channel and connection. The value is unusable afterwards.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	if r.ch != nil {
		if err := r.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			r.log.Warn().Err(err).Msg("close channel")
		}
	}
	if r.conn != nil && !r.conn.IsClosed() {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("close connection: %w", err)
		}
	}
	r.log.Info().Msg("broker connection closed")
	return nil
}

// Health reports connection state for the /health endpoint.
func (r *RabbitMQ) Health() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch {
	case r.closed:
		return map[string]string{"status": "down", "error": "closed"}
	case r.conn == nil || r.conn.IsClosed():
		return map[string]string{"status": "down", "error": "connection lost"}
	default:
		return map[string]string{"status": "up"}
	}
}

// declareExchange declares a durable topic exchange.
func (r *RabbitMQ) declareExchange(name string) error {
	ch, err := r.channel()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	return nil
}

// declareQueue declares a durable queue bound to exchange for each routing
// key. Rejected deliveries are routed to DeadLetterExchange.
func (r *RabbitMQ) declareQueue(name, exchange string, keys ...string) error {
	ch, err := r.channel()
	if err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": DeadLetterExchange,
	}); err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	for _, key := range keys {
		if err := ch.QueueBind(name, key, exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s/%s: %w", name, exchange, key, err)
		}
	}
	return nil
}

// DeclareDeadLetterQueue declares DeadLetterExchange and a catch-all
// dlq.<service> queue bound to it.
func (r *RabbitMQ) DeclareDeadLetterQueue(service string) error {
	ch, err := r.channel()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(DeadLetterExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead letter exchange: %w", err)
	}
	queue := "dlq." + service
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, "#", DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", queue, err)
	}
	return nil
}
