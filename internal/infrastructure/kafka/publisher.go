package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cassiomorais/paymentcore/internal/domain/payment"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/config"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher writes lifecycle events to a Kafka topic keyed by payment ID,
// so all events of one payment land on the same partition in order.
type EventPublisher struct {
	writer messageWriter
	topic  string
}

// message is the JSON body of a published event.
type message struct {
	EventID           string    `json:"event_id"`
	Type              string    `json:"type"`
	PaymentID         string    `json:"payment_id"`
	OrderID           string    `json:"order_id"`
	Status            string    `json:"status"`
	ExternalReference string    `json:"external_reference,omitempty"`
	AmountCents       int64     `json:"amount_cents"`
	Currency          string    `json:"currency"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func NewEventPublisher(cfg config.KafkaConfig, logger zerolog.Logger) *EventPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Compression:  kafka.Snappy,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug().Msgf(msg, args...)
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error().Msgf(msg, args...)
		}),
	}
	return &EventPublisher{writer: writer, topic: cfg.Topic}
}

func (p *EventPublisher) Name() string {
	return "kafka"
}

func (p *EventPublisher) Publish(ctx context.Context, event payment.Event) error {
	msg, err := encode(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s to %s: %w", event.Type, p.topic, err)
	}
	return nil
}

func (p *EventPublisher) Close() error {
	return p.writer.Close()
}

func encode(event payment.Event) (kafka.Message, error) {
	body, err := json.Marshal(message{
		EventID:           event.ID.String(),
		Type:              event.Type,
		PaymentID:         event.PaymentID.String(),
		OrderID:           event.OrderID,
		Status:            string(event.Status),
		ExternalReference: event.ExternalReference,
		AmountCents:       event.AmountCents,
		Currency:          event.Currency,
		OccurredAt:        event.OccurredAt.UTC(),
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.PaymentID.String()),
		Value: body,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}, nil
}
