package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/taskerhub/marketplace/internal/domain/outbox"
)

// Producer publishes relayed notifications to a Kafka topic. It is synchronous so the outbox
// relay only marks an entry published once the broker acknowledged it.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewConfig returns the producer settings used for notifications.
func NewConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Retry.Max = 5
	config.Producer.Retry.Backoff = 200 * time.Millisecond
	config.Producer.Return.Successes = true
	return config
}

func NewProducer(brokers []string, topic string) (*Producer, error) {
	p, err := sarama.NewSyncProducer(brokers, NewConfig())
	if err != nil {
		return nil, fmt.Errorf("start kafka producer: %w", err)
	}
	return NewProducerFrom(p, topic), nil
}

// NewProducerFrom wraps an existing sarama producer.
func NewProducerFrom(p sarama.SyncProducer, topic string) *Producer {
	return &Producer{producer: p, topic: topic}
}

func (p *Producer) Name() string { return "kafka:" + p.topic }

type message struct {
	NotificationID string    `json:"notification_id"`
	UserID         string    `json:"user_id"`
	Kind           string    `json:"kind"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

// Publish sends entry keyed by recipient so one user's notifications stay ordered.
func (p *Producer) Publish(ctx context.Context, entry *outbox.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.RecipientID == uuid.Nil {
		return fmt.Errorf("notification %s: %w", entry.ID, outbox.ErrNoRecipient)
	}

	body, err := json.Marshal(message{
		NotificationID: entry.ID.String(),
		UserID:         entry.RecipientID.String(),
		Kind:           entry.Kind,
		Title:          entry.Title,
		Message:        entry.Message,
		CreatedAt:      entry.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(entry.RecipientID.String()),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(entry.Kind)},
			{Key: []byte("attempt"), Value: []byte(strconv.Itoa(entry.Attempts + 1))},
		},
	})
	if err != nil {
		return fmt.Errorf("send notification %s: %w", entry.ID, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
