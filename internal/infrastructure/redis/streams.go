package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	CallbackStream = "payments:callbacks"
	EventStream    = "payments:events"
	DLQStream      = "payments:dlq"
)

// Callback is a provider status notification delivered over a stream.
type Callback struct {
	ExternalReference string
	Status            string
}

// DecodeCallback reads a callback from stream message fields.
func DecodeCallback(values map[string]any) (Callback, error) {
	ref, _ := values["external_reference"].(string)
	status, _ := values["status"].(string)
	if strings.TrimSpace(ref) == "" {
		return Callback{}, errors.New("missing external_reference")
	}
	if strings.TrimSpace(status) == "" {
		return Callback{}, errors.New("missing status")
	}
	return Callback{ExternalReference: ref, Status: status}, nil
}

type StreamProducer struct {
	client redis.UniversalClient
}

func NewStreamProducer(client redis.UniversalClient) *StreamProducer {
	return &StreamProducer{client: client}
}

// PublishCallback enqueues a provider notification for the worker.
func (p *StreamProducer) PublishCallback(ctx context.Context, cb Callback) (string, error) {
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: CallbackStream,
		Values: map[string]any{
			"external_reference": cb.ExternalReference,
			"status":             cb.Status,
			"timestamp":          time.Now().Unix(),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish callback: %w", err)
	}
	return id, nil
}

// EnqueueCallback is PublishCallback for callers that hold plain fields.
func (p *StreamProducer) EnqueueCallback(ctx context.Context, externalReference, status string) (string, error) {
	return p.PublishCallback(ctx, Callback{ExternalReference: externalReference, Status: status})
}

// PublishToDLQ parks a message that cannot be applied, keeping its original fields.
func (p *StreamProducer) PublishToDLQ(ctx context.Context, source string, msg redis.XMessage, reason string) error {
	values := make(map[string]any, len(msg.Values)+4)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["source_stream"] = source
	values["source_id"] = msg.ID
	values["reason"] = reason
	values["timestamp"] = time.Now().Unix()

	if err := p.client.XAdd(ctx, &redis.XAddArgs{Stream: DLQStream, Values: values}).Err(); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}
	return nil
}

type StreamConsumer struct {
	client        redis.UniversalClient
	stream        string
	group         string
	consumer      string
	batchSize     int64
	blockDuration time.Duration
}

func NewStreamConsumer(
	client redis.UniversalClient,
	stream string,
	group string,
	consumer string,
	batchSize int64,
	blockDuration time.Duration,
) *StreamConsumer {
	return &StreamConsumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		batchSize:     batchSize,
		blockDuration: blockDuration,
	}
}

func (c *StreamConsumer) Stream() string {
	return c.stream
}

// CreateGroup creates the stream and group if they do not exist.
func (c *StreamConsumer) CreateGroup(ctx context.Context) error {
	const busyGroupMsg = "BUSYGROUP"
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), busyGroupMsg) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Read blocks for new messages. No messages is not an error.
func (c *StreamConsumer) Read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockDuration,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var messages []redis.XMessage
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}
	return messages, nil
}

func (c *StreamConsumer) Ack(ctx context.Context, messageID string) error {
	if err := c.client.XAck(ctx, c.stream, c.group, messageID).Err(); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// ClaimStale takes over messages another consumer read but never acked.
func (c *StreamConsumer) ClaimStale(ctx context.Context, minIdle time.Duration) ([]redis.XMessage, error) {
	messages, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    c.batchSize,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim messages: %w", err)
	}
	return messages, nil
}
