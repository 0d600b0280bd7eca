package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/tenant"
)

// HeaderTenantSchema carries the publishing tenant so consumers can scope
// their work without decoding the body.
const HeaderTenantSchema = "x-tenant-schema"

// EventPublisher is what the pharmacy services publish through.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// Publisher sends events to a topic exchange, routed by event type.
type Publisher struct {
	rmq      *RabbitMQ
	exchange string
	source   string
	log      *logger.Logger

	// one in-flight publish per channel
	mu sync.Mutex
}

// NewPublisher declares exchange and returns a publisher stamping events
// with source.
func NewPublisher(rmq *RabbitMQ, exchange, source string, log *logger.Logger) (*Publisher, error) {
	if err := rmq.declareExchange(exchange); err != nil {
		return nil, err
	}
	return &Publisher{rmq: rmq, exchange: exchange, source: source, log: log.WithComponent("publisher")}, nil
}

// Publish wraps data in an Event and sends it persistently. A lost
// connection is re-dialled once before giving up.
func (p *Publisher) Publish(ctx context.Context, eventType string, data interface{}) error {
	event, err := NewEvent(eventType, p.source, correlationID(ctx), data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     event.ID,
		CorrelationId: event.CorrelationID,
		Timestamp:     event.Timestamp,
		Type:          eventType,
		AppId:         p.source,
		Body:          body,
	}
	if schema, err := tenant.TenantSchema(ctx); err == nil {
		msg.Headers = amqp.Table{HeaderTenantSchema: schema}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.send(ctx, eventType, msg)
	if err != nil && p.rmq.reconnect(ctx) == nil {
		err = p.send(ctx, eventType, msg)
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}

	p.log.Debug().
		Str("event_type", eventType).
		Str("event_id", event.ID).
		Str("correlation_id", event.CorrelationID).
		Msg("event published")
	return nil
}

func (p *Publisher) send(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	ch, err := p.rmq.channel()
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
}

type correlationKey struct{}

// WithCorrelationID ties events published under ctx to one flow.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok && id != "" {
		return id
	}
	return GenerateEventID()
}

// NopPublisher discards events. Used when the broker is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, interface{}) error { return nil }
