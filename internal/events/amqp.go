package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// AMQPPublisher publishes envelopes to a durable topic exchange with the
// event type as routing key.
type AMQPPublisher struct {
	conn     *amqp.Connection
	exchange string
	logger   zerolog.Logger
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string, logger zerolog.Logger) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = "teamchat.events"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp declare %s: %w", exchange, err)
	}

	return &AMQPPublisher{
		conn:     conn,
		exchange: exchange,
		logger:   logger.With().Str("component", "events").Logger(),
	}, nil
}

// Publish sends env on a short-lived confirm-mode channel and waits for the
// broker ack.
func (p *AMQPPublisher) Publish(ctx context.Context, env Envelope) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return err
	}

	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx, p.exchange, env.Meta.Type, false, false,
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     env.Meta.ID,
			CorrelationId: env.Data.Conversation,
			Timestamp:     time.Now(),
			Type:          env.Meta.Type,
			Body:          body,
		},
	)
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("amqp: broker nacked %s", env.Meta.ID)
	}

	p.logger.Debug().
		Str("type", env.Meta.Type).
		Str("event_id", env.Meta.ID).
		Str("exchange", p.exchange).
		Msg("event published")
	return nil
}

// IsClosed reports whether the broker connection is gone.
func (p *AMQPPublisher) IsClosed() bool {
	return p.conn.IsClosed()
}

// Close closes the broker connection.
func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}
