package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	sl "github.com/iliyamo/pdf-flipbook/internal/logger"
	"github.com/iliyamo/pdf-flipbook/internal/queue"
)

// EventPublisher delivers flipbook lifecycle events.  Callers treat failures
// as non-fatal.
type EventPublisher interface {
	PublishFlipbookCreated(ctx context.Context, ev queue.FlipbookCreatedEvent) error
}

// NopPublisher drops every event.  Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishFlipbookCreated(context.Context, queue.FlipbookCreatedEvent) error {
	return nil
}

// AMQPPublisher dials RabbitMQ per publish and sends a persistent JSON
// message to the flipbook.created queue.
type AMQPPublisher struct {
	URL string
	Log *slog.Logger
}

func NewAMQPPublisher(url string, log *slog.Logger) *AMQPPublisher {
	return &AMQPPublisher{URL: url, Log: log}
}

func (p *AMQPPublisher) PublishFlipbookCreated(ctx context.Context, ev queue.FlipbookCreatedEvent) error {
	const op = "service.AMQPPublisher.PublishFlipbookCreated"
	log := p.Log.With(slog.String("op", op))

	conn, err := amqp.Dial(p.URL)
	if err != nil {
		log.Error("dial failed", sl.Err(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Error("channel open failed", sl.Err(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(queue.FlipbookCreatedQueue, true, false, false, false, nil); err != nil {
		log.Error("queue declare failed", sl.Err(err))
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	// default exchange, routing key = queue name
	if err := ch.PublishWithContext(ctx, "", queue.FlipbookCreatedQueue, false, false, pub); err != nil {
		log.Error("publish failed", sl.Err(err))
		return err
	}
	return nil
}
