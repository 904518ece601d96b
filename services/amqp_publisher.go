package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// EventMeta identifies one published inbox event
type EventMeta struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Room string    `json:"room"`
	Time time.Time `json:"time"`
}

// EventEnvelope is the AMQP message body
type EventEnvelope struct {
	Meta EventMeta `json:"meta"`
	Data any       `json:"data"`
}

// AMQPPublisher publishes inbox events to a RabbitMQ topic exchange so that
// observers on other instances receive them
type AMQPPublisher struct {
	conn     *amqp091.Connection
	exchange string
	timeout  time.Duration
	log      *slog.Logger
}

// RoutingKey is inbox.<room>.<event>
func RoutingKey(room, event string) string {
	return "inbox." + strings.ReplaceAll(room, ".", "_") + "." + event
}

// NewAMQPPublisher dials url and declares a durable topic exchange
func NewAMQPPublisher(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange: %w", err)
	}

	return &AMQPPublisher{
		conn:     conn,
		exchange: exchange,
		timeout:  5 * time.Second,
		log:      logger,
	}, nil
}

// Publish sends one event. Each call uses its own channel.
func (p *AMQPPublisher) Publish(room, event string, payload any) error {
	envelope := EventEnvelope{
		Meta: EventMeta{
			ID:   uuid.NewString(),
			Type: event,
			Room: room,
			Time: time.Now().UTC(),
		},
		Data: payload,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	key := RoutingKey(room, event)
	err = ch.PublishWithContext(
		ctx, p.exchange, key, false, false,
		amqp091.Publishing{
			ContentType: "application/json",
			MessageId:   envelope.Meta.ID,
			Type:        event,
			Timestamp:   envelope.Meta.Time,
			Body:        body,
		},
	)
	if err == nil {
		p.log.Debug("published", slog.String("key", key), slog.String("exchange", p.exchange))
	}
	return err
}

// Close closes the connection
func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}
