package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/medflow/medflow-pharmacy/pkg/logger"
)

// HeaderRetryCount counts how often a delivery has been retried.
const HeaderRetryCount = "x-retry-count"

const resubscribeDelay = 2 * time.Second

// MessageHandler processes one decoded event. A returned error schedules a
// retry; after the last retry the delivery is dead-lettered.
type MessageHandler func(ctx context.Context, event *Event) error

// Consumer reads one durable queue and dispatches by event type.
type Consumer struct {
	rmq        *RabbitMQ
	queue      string
	maxRetries int
	handlers   map[string]MessageHandler
	log        *logger.Logger
}

// NewConsumer declares queue and returns a consumer for it.
func NewConsumer(rmq *RabbitMQ, queue string, maxRetries int, log *logger.Logger) (*Consumer, error) {
	if err := rmq.declareQueue(queue, ""); err != nil {
		return nil, err
	}
	return &Consumer{
		rmq:        rmq,
		queue:      queue,
		maxRetries: maxRetries,
		handlers:   make(map[string]MessageHandler),
		log:        log.WithComponent("consumer").WithField("queue", queue),
	}, nil
}

// Subscribe binds the queue to exchange for each routing key pattern.
func (c *Consumer) Subscribe(exchange string, patterns ...string) error {
	if err := c.rmq.declareExchange(exchange); err != nil {
		return err
	}
	ch, err := c.rmq.channel()
	if err != nil {
		return err
	}
	for _, pattern := range patterns {
		if err := ch.QueueBind(c.queue, pattern, exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s/%s: %w", c.queue, exchange, pattern, err)
		}
		c.log.Info().Str("exchange", exchange).Str("routing_key", pattern).Msg("subscribed")
	}
	return nil
}

// RegisterHandler routes eventType to h. Unrouted events are acknowledged
// and dropped.
func (c *Consumer) RegisterHandler(eventType string, h MessageHandler) {
	c.handlers[eventType] = h
}

// Start begins consuming in the background until ctx is cancelled. When the
// broker drops the channel the consumer reconnects and resubscribes.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.consume()
	if err != nil {
		return err
	}
	c.log.Info().Msg("consumer started")

	go func() {
		for {
			c.drain(ctx, deliveries)
			if ctx.Err() != nil {
				c.log.Info().Msg("consumer stopped")
				return
			}

			c.log.Warn().Msg("delivery channel closed, resubscribing")
			for {
				if err := c.rmq.reconnect(ctx); err == nil {
					if deliveries, err = c.consume(); err == nil {
						break
					}
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(resubscribeDelay):
				}
			}
		}
	}()
	return nil
}

func (c *Consumer) consume() (<-chan amqp.Delivery, error) {
	ch, err := c.rmq.channel()
	if err != nil {
		return nil, err
	}
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}
	return deliveries, nil
}

func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	var event Event
	if err := json.Unmarshal(d.Body, &event); err != nil {
		c.log.Error().Err(err).Str("message_id", d.MessageId).Msg("undecodable delivery, dead-lettering")
		_ = d.Reject(false)
		return
	}

	h, ok := c.handlers[event.Type]
	if !ok {
		c.log.Debug().Str("event_type", event.Type).Msg("no handler, dropping")
		_ = d.Ack(false)
		return
	}

	log := c.log.WithField("event_type", event.Type).
		WithField("event_id", event.ID).
		WithField("correlation_id", event.CorrelationID)

	err := h(WithCorrelationID(ctx, event.CorrelationID), &event)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	attempt := retryCount(d.Headers)
	if attempt >= c.maxRetries {
		log.Warn().Err(err).Int("retries", attempt).Msg("retries exhausted, dead-lettering")
		_ = d.Reject(false)
		return
	}

	log.Warn().Err(err).Int("retry", attempt+1).Msg("handler failed, retrying")
	if rerr := c.retry(ctx, d, attempt+1); rerr != nil {
		// Requeue as-is rather than lose the delivery.
		log.Error().Err(rerr).Msg("schedule retry")
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// retry puts a copy of d back on the queue with the retry count bumped. A
// plain requeue would not carry the count.
func (c *Consumer) retry(ctx context.Context, d amqp.Delivery, attempt int) error {
	ch, err := c.rmq.channel()
	if err != nil {
		return err
	}
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[HeaderRetryCount] = int32(attempt)

	return ch.PublishWithContext(ctx, "", c.queue, false, false, amqp.Publishing{
		Headers:       headers,
		ContentType:   d.ContentType,
		DeliveryMode:  amqp.Persistent,
		MessageId:     d.MessageId,
		CorrelationId: d.CorrelationId,
		Timestamp:     d.Timestamp,
		Type:          d.Type,
		AppId:         d.AppId,
		Body:          d.Body,
	})
}

func retryCount(headers amqp.Table) int {
	switch n := headers[HeaderRetryCount].(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	}
	return 0
}
