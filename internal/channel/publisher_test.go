package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

// fakeKafkaWriter implements kafkaMessageWriter for tests
type fakeKafkaWriter struct {
	msgs []kafka.Message
	fail bool
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.fail {
		return errors.New("fail")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error { return nil }

func TestKafkaPublisher_Publish_Success(t *testing.T) {
	fk := &fakeKafkaWriter{}
	p := NewKafkaPublisherWith(fk)
	id, err := p.Publish(context.Background(), []byte(`{"event_id":"a"}`))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id == "" {
		t.Fatalf("empty message id")
	}
	if len(fk.msgs) != 1 {
		t.Fatalf("want 1 msg, got %d", len(fk.msgs))
	}
	m := fk.msgs[0]
	if string(m.Value) != `{"event_id":"a"}` {
		t.Fatalf("bad value: %s", m.Value)
	}
	if len(m.Headers) != 1 || m.Headers[0].Key != HeaderMessageID || string(m.Headers[0].Value) != id {
		t.Fatalf("bad headers: %+v", m.Headers)
	}
}

func TestKafkaPublisher_Publish_Fail(t *testing.T) {
	p := NewKafkaPublisherWith(&fakeKafkaWriter{fail: true})
	if _, err := p.Publish(context.Background(), []byte(`{}`)); err == nil {
		t.Fatalf("expected error")
	}
}
