package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
	"github.com/zatekoja/patientjourney/internal/domain/providers"
)

// BusPublisher fans committed events out to the journey's own channel and
// the global journey channel of an EventBus
type BusPublisher struct {
	bus providers.EventBus
}

// NewBusPublisher creates a publisher over bus
func NewBusPublisher(bus providers.EventBus) *BusPublisher {
	return &BusPublisher{bus: bus}
}

// Publish sends event to journey:{id} and journey:events
func (p *BusPublisher) Publish(ctx context.Context, event *entities.JourneyEvent) error {
	return errors.Join(
		p.bus.Publish(ctx, providers.GetJourneyChannel(event.JourneyID), event),
		p.bus.Publish(ctx, providers.EventChannelJourneyEvents, event),
	)
}

// amqpChannel is the part of *amqp.Channel the publisher uses
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes journey events to a RabbitMQ topic exchange
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
}

// NewAMQPPublisher dials url and declares a durable topic exchange
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
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
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// RoutingKey is journey.<event type in lower case>, e.g. journey.state_transition
func RoutingKey(eventType entities.EventType) string {
	return "journey." + strings.ToLower(string(eventType))
}

// Publish sends event as a persistent JSON message
func (p *AMQPPublisher) Publish(ctx context.Context, event *entities.JourneyEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(event.EventType), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.CreatedAt,
		Type:         string(event.EventType),
		Body:         body,
	})
}

// Close closes the channel and the connection
func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// MultiPublisher publishes to every configured publisher and joins the errors
type MultiPublisher []providers.EventPublisher

// Publish tries every publisher even when an earlier one fails
func (m MultiPublisher) Publish(ctx context.Context, event *entities.JourneyEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
