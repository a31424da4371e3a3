package channel

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// HeaderMessageID carries the identifier assigned at publish time.
const HeaderMessageID = "message-id"

// Publisher hands one transport unit to the message channel and returns the
// identifier the channel assigned to it.
type Publisher interface {
	Publish(ctx context.Context, data []byte) (messageID string, err error)
}

// KafkaPublisher publishes units to a Kafka topic. Pure-Go client (segmentio/kafka-go).
type KafkaPublisher struct {
	writer kafkaMessageWriter
	newID  func() string
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaPublisher creates a synchronous publisher acknowledged by all replicas.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return NewKafkaPublisherWith(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	})
}

// NewKafkaPublisherWith is only for tests to inject a fake writer.
func NewKafkaPublisherWith(w kafkaMessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w, newID: uuid.NewString}
}

func (p *KafkaPublisher) Publish(ctx context.Context, data []byte) (string, error) {
	id := p.newID()
	msg := kafka.Message{
		Key:     []byte(id),
		Value:   data,
		Headers: []kafka.Header{{Key: HeaderMessageID, Value: []byte(id)}},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("kafka write: %w", err)
	}
	return id, nil
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }
