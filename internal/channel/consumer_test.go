package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"salesflow/internal/metrics"
)

// fakeConsumer replays queued messages; Seek puts the message back in front.
type fakeConsumer struct {
	queue     []*ck.Message
	byPos     map[string]*ck.Message
	committed []string
	seeks     int
	cancel    context.CancelFunc
}

func newFakeConsumer(msgs ...*ck.Message) *fakeConsumer {
	f := &fakeConsumer{byPos: map[string]*ck.Message{}}
	for _, m := range msgs {
		f.queue = append(f.queue, m)
		f.byPos[m.TopicPartition.String()] = m
	}
	return f
}

func (f *fakeConsumer) ReadMessage(time.Duration) (*ck.Message, error) {
	if len(f.queue) == 0 {
		f.cancel()
		return nil, ck.NewError(ck.ErrTimedOut, "timed out", false)
	}
	m := f.queue[0]
	f.queue = f.queue[1:]
	return m, nil
}

func (f *fakeConsumer) CommitMessage(m *ck.Message) ([]ck.TopicPartition, error) {
	f.committed = append(f.committed, DeliveryID(m))
	return []ck.TopicPartition{m.TopicPartition}, nil
}

func (f *fakeConsumer) Seek(tp ck.TopicPartition, _ int) error {
	f.seeks++
	f.queue = append([]*ck.Message{f.byPos[tp.String()]}, f.queue...)
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeProducer struct {
	sent []*ck.Message
}

func (f *fakeProducer) Produce(m *ck.Message, ch chan ck.Event) error {
	f.sent = append(f.sent, m)
	ch <- m
	return nil
}

func (f *fakeProducer) Close() {}

func kmsg(offset int64, id string) *ck.Message {
	topic := "sales.events"
	m := &ck.Message{
		TopicPartition: ck.TopicPartition{Topic: &topic, Partition: 0, Offset: ck.Offset(offset)},
		Value:          []byte(`{"event_id":"x"}`),
	}
	if id != "" {
		m.Headers = []ck.Header{{Key: HeaderMessageID, Value: []byte(id)}}
	}
	return m
}

func run(t *testing.T, c *fakeConsumer, p *fakeProducer, h Handler) (*Consumer, *metrics.Registry) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.cancel = cancel
	reg := metrics.NewRegistry()
	cons := NewConsumerWith(c, p, "sales.events.dlq", zap.NewNop(), reg)
	cons.MaxAttempts = 3
	if err := cons.Run(ctx, h); err != nil {
		t.Fatalf("run: %v", err)
	}
	return cons, reg
}

func TestDeliveryID(t *testing.T) {
	if got := DeliveryID(kmsg(7, "abc")); got != "abc" {
		t.Fatalf("header id: %s", got)
	}
	if got := DeliveryID(kmsg(7, "")); got != "sales.events[0]@7" {
		t.Fatalf("fallback id: %s", got)
	}
}

func TestConsumer_CommitsHandledMessages(t *testing.T) {
	c := newFakeConsumer(kmsg(1, "a"), kmsg(2, "b"))
	var seen []string
	run(t, c, &fakeProducer{}, func(_ context.Context, m Message) error {
		seen = append(seen, m.ID)
		return nil
	})
	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Fatalf("handled %v", seen)
	}
	if len(c.committed) != 2 || c.seeks != 0 {
		t.Fatalf("committed=%v seeks=%d", c.committed, c.seeks)
	}
}

func TestConsumer_RetriesThenSucceeds(t *testing.T) {
	c := newFakeConsumer(kmsg(1, "a"))
	calls := 0
	_, reg := run(t, c, &fakeProducer{}, func(context.Context, Message) error {
		calls++
		if calls < 3 {
			return errors.New("destination unavailable")
		}
		return nil
	})
	if calls != 3 || c.seeks != 2 || len(c.committed) != 1 {
		t.Fatalf("calls=%d seeks=%d committed=%v", calls, c.seeks, c.committed)
	}
	if v := testutil.ToFloat64(reg.Redeliveries); v != 2 {
		t.Fatalf("redeliveries=%v", v)
	}
}

func TestConsumer_DeadLettersAfterMaxAttempts(t *testing.T) {
	c := newFakeConsumer(kmsg(1, "a"), kmsg(2, "b"))
	p := &fakeProducer{}
	_, reg := run(t, c, p, func(_ context.Context, m Message) error {
		if m.ID == "a" {
			return errors.New("undecodable unit")
		}
		return nil
	})
	if len(p.sent) != 1 {
		t.Fatalf("want one dead-lettered message, got %d", len(p.sent))
	}
	dl := p.sent[0]
	if *dl.TopicPartition.Topic != "sales.events.dlq" {
		t.Fatalf("dlq topic: %s", *dl.TopicPartition.Topic)
	}
	headers := map[string]string{}
	for _, h := range dl.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers[HeaderMessageID] != "a" || headers[HeaderDLQReason] != "undecodable unit" || headers[HeaderDLQAttempts] != "3" {
		t.Fatalf("dlq headers: %v", headers)
	}
	if len(c.committed) != 2 || c.committed[0] != "a" || c.committed[1] != "b" {
		t.Fatalf("committed=%v", c.committed)
	}
	if v := testutil.ToFloat64(reg.DeadLettered); v != 1 {
		t.Fatalf("dead lettered=%v", v)
	}
}
