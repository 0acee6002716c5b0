package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/taskerhub/marketplace/internal/domain/outbox"
)

const (
	NotificationStream = "notifications:outbound"
	DLQStream          = "notifications:dlq"
)

// StreamProducer publishes relayed notifications to a Redis stream.
type StreamProducer struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

func NewStreamProducer(client redis.UniversalClient, stream string, maxLen int64) *StreamProducer {
	if stream == "" {
		stream = NotificationStream
	}
	return &StreamProducer{client: client, stream: stream, maxLen: maxLen}
}

func (p *StreamProducer) Name() string { return "redis:" + p.stream }

// Publish appends entry to the stream. The notification id is carried so consumers can dedupe.
func (p *StreamProducer) Publish(ctx context.Context, entry *outbox.Entry) error {
	if entry.RecipientID == uuid.Nil {
		return fmt.Errorf("notification %s: %w", entry.ID, outbox.ErrNoRecipient)
	}
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Approx: true,
		MaxLen: p.maxLen,
		Values: map[string]any{
			"notification_id": entry.ID.String(),
			"user_id":         entry.RecipientID.String(),
			"kind":            entry.Kind,
			"title":           entry.Title,
			"message":         entry.Message,
			"created_at":      entry.CreatedAt.Unix(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish notification %s: %w", entry.ID, err)
	}
	return nil
}

// PublishToDLQ parks a notification the relay gave up on, with the last failure.
func (p *StreamProducer) PublishToDLQ(ctx context.Context, entry *outbox.Entry, reason string) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DLQStream,
		Values: map[string]any{
			"notification_id": entry.ID.String(),
			"user_id":         entry.RecipientID.String(),
			"kind":            entry.Kind,
			"attempts":        entry.Attempts,
			"reason":          reason,
			"parked_at":       time.Now().Unix(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("park notification %s: %w", entry.ID, err)
	}
	return nil
}

// StreamConsumer reads a stream through a consumer group.
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

func (c *StreamConsumer) CreateGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

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
		return nil, fmt.Errorf("read from stream: %w", err)
	}

	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

func (c *StreamConsumer) Ack(ctx context.Context, messageID string) error {
	if err := c.client.XAck(ctx, c.stream, c.group, messageID).Err(); err != nil {
		return fmt.Errorf("ack message: %w", err)
	}
	return nil
}
