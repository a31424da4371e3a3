package channel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"salesflow/internal/metrics"
)

// Header keys added to dead-lettered messages.
const (
	HeaderDLQReason   = "dlq-reason"
	HeaderDLQAttempts = "dlq-attempts"
	HeaderDLQSource   = "dlq-source"
)

// Message is one delivery handed to a Handler.
type Message struct {
	ID    string
	Value []byte
}

// Handler processes one delivery. A non-nil error asks for redelivery.
type Handler func(ctx context.Context, m Message) error

// kafkaConsumer abstracts *ck.Consumer for testability.
type kafkaConsumer interface {
	ReadMessage(timeout time.Duration) (*ck.Message, error)
	CommitMessage(m *ck.Message) ([]ck.TopicPartition, error)
	Seek(partition ck.TopicPartition, ignoredTimeoutMs int) error
	Close() error
}

// kafkaProducer abstracts *ck.Producer for testability.
type kafkaProducer interface {
	Produce(msg *ck.Message, deliveryChan chan ck.Event) error
	Close()
}

// Consumer drives a Handler from a Kafka topic with manual commits. A unit
// whose handler fails is re-read from the same offset until MaxAttempts, then
// forwarded to the dead-letter topic and committed.
type Consumer struct {
	c        kafkaConsumer
	dlq      kafkaProducer
	dlqTopic string
	log      *zap.Logger
	metrics  *metrics.Registry

	MaxAttempts int
	PollTimeout time.Duration

	attempts map[string]int
}

// ConsumerConfig configures NewKafkaConsumer.
type ConsumerConfig struct {
	Brokers     string
	GroupID     string
	Topic       string
	DLQTopic    string
	MaxAttempts int
}

// NewKafkaConsumer subscribes a read_committed consumer group to cfg.Topic
// and, when cfg.DLQTopic is set, opens an idempotent producer for it.
func NewKafkaConsumer(cfg ConsumerConfig, log *zap.Logger, m *metrics.Registry) (*Consumer, error) {
	c, err := ck.NewConsumer(&ck.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"group.id":           cfg.GroupID,
		"enable.auto.commit": false,
		"isolation.level":    "read_committed",
		"auto.offset.reset":  "earliest",
	})
	if err != nil {
		return nil, fmt.Errorf("consumer: %w", err)
	}
	if err := c.SubscribeTopics([]string{cfg.Topic}, nil); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	var p kafkaProducer
	if cfg.DLQTopic != "" {
		prod, err := ck.NewProducer(&ck.ConfigMap{
			"bootstrap.servers":  cfg.Brokers,
			"enable.idempotence": true,
			"acks":               "all",
		})
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("dlq producer: %w", err)
		}
		p = prod
	}
	cons := NewConsumerWith(c, p, cfg.DLQTopic, log, m)
	if cfg.MaxAttempts > 0 {
		cons.MaxAttempts = cfg.MaxAttempts
	}
	return cons, nil
}

// NewConsumerWith is only for tests to inject fakes. dlq may be nil.
func NewConsumerWith(c kafkaConsumer, dlq kafkaProducer, dlqTopic string, log *zap.Logger, m *metrics.Registry) *Consumer {
	return &Consumer{
		c:           c,
		dlq:         dlq,
		dlqTopic:    dlqTopic,
		log:         log,
		metrics:     m,
		MaxAttempts: 5,
		PollTimeout: time.Second,
		attempts:    map[string]int{},
	}
}

// DeliveryID returns the id the publisher attached, or topic[partition]@offset.
func DeliveryID(m *ck.Message) string {
	for _, h := range m.Headers {
		if h.Key == HeaderMessageID && len(h.Value) > 0 {
			return string(h.Value)
		}
	}
	topic := ""
	if m.TopicPartition.Topic != nil {
		topic = *m.TopicPartition.Topic
	}
	return fmt.Sprintf("%s[%d]@%d", topic, m.TopicPartition.Partition, int64(m.TopicPartition.Offset))
}

// Run polls until ctx is done. It returns nil on cancellation and an error
// only when the consumer itself fails.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for ctx.Err() == nil {
		msg, err := c.c.ReadMessage(c.PollTimeout)
		if err != nil {
			var kerr ck.Error
			if errors.As(err, &kerr) && kerr.IsTimeout() {
				continue
			}
			if errors.As(err, &kerr) && kerr.IsFatal() {
				return fmt.Errorf("consumer: %w", err)
			}
			c.log.Warn("read message failed", zap.Error(err))
			continue
		}
		if err := c.handle(ctx, msg, handle); err != nil {
			return err
		}
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg *ck.Message, handle Handler) error {
	id := DeliveryID(msg)
	pos := msg.TopicPartition.String()
	herr := handle(ctx, Message{ID: id, Value: msg.Value})
	if herr == nil {
		delete(c.attempts, pos)
		return c.commit(msg)
	}
	if ctx.Err() != nil {
		// Shutting down; the uncommitted offset is re-read by the next owner.
		return nil
	}

	c.attempts[pos]++
	n := c.attempts[pos]
	log := c.log.With(zap.String("delivery_id", id), zap.Int("attempt", n), zap.Error(herr))
	if n < c.MaxAttempts {
		c.metrics.Redeliveries.Inc()
		log.Warn("unit failed, redelivering")
		if err := c.c.Seek(msg.TopicPartition, 0); err != nil {
			return fmt.Errorf("seek %s: %w", pos, err)
		}
		return nil
	}

	delete(c.attempts, pos)
	if err := c.deadLetter(msg, id, n, herr); err != nil {
		return err
	}
	c.metrics.DeadLettered.Inc()
	log.Error("unit dead-lettered", zap.String("dlq_topic", c.dlqTopic))
	return c.commit(msg)
}

func (c *Consumer) deadLetter(msg *ck.Message, id string, attempts int, cause error) error {
	if c.dlq == nil || c.dlqTopic == "" {
		c.log.Warn("no dead-letter topic configured, dropping unit", zap.String("delivery_id", id))
		return nil
	}
	headers := append([]ck.Header{}, msg.Headers...)
	headers = append(headers,
		ck.Header{Key: HeaderDLQReason, Value: []byte(cause.Error())},
		ck.Header{Key: HeaderDLQAttempts, Value: []byte(strconv.Itoa(attempts))},
		ck.Header{Key: HeaderDLQSource, Value: []byte(msg.TopicPartition.String())},
	)
	done := make(chan ck.Event, 1)
	err := c.dlq.Produce(&ck.Message{
		TopicPartition: ck.TopicPartition{Topic: &c.dlqTopic, Partition: ck.PartitionAny},
		Key:            msg.Key,
		Value:          msg.Value,
		Headers:        headers,
	}, done)
	if err != nil {
		return fmt.Errorf("dlq produce: %w", err)
	}
	if m, ok := (<-done).(*ck.Message); ok && m.TopicPartition.Error != nil {
		return fmt.Errorf("dlq delivery: %w", m.TopicPartition.Error)
	}
	return nil
}

func (c *Consumer) commit(msg *ck.Message) error {
	if _, err := c.c.CommitMessage(msg); err != nil {
		return fmt.Errorf("commit %s: %w", msg.TopicPartition.String(), err)
	}
	return nil
}

func (c *Consumer) Close() error {
	if c.dlq != nil {
		c.dlq.Close()
	}
	return c.c.Close()
}
