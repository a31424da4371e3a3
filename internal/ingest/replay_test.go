package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"salesflow/internal/spool"
)

func TestReplayFile_PublishesAndKeepsPending(t *testing.T) {
	w, err := spool.NewFileWriter(t.TempDir(), "ingest.jsonl")
	if err != nil {
		t.Fatalf("spool: %v", err)
	}
	f := newFixture(t, errors.New("broker down"), WithSpool(w))
	for _, body := range []string{`{"event_id":"k1","client_id":1}`, `[{"client_id":2}]`} {
		f.post(body)
	}
	if err := w.Append(spool.Entry{Source: spool.SourceLoader, ID: "d-1", Payload: "%%%"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(spool.Entry{Source: spool.SourceIngest, Payload: "not json"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	f.pub.err = nil
	f.pub.calls = nil
	res, err := ReplayFile(context.Background(), NewService(f.pub, zap.NewNop(), WithKeyFunc(seqKeys())), w.Path(), 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Published != 2 || res.Rejected != 1 || res.Skipped != 1 || len(res.Remaining) != 0 {
		t.Fatalf("result: %+v", res)
	}
	if len(f.pub.calls) != 2 || string(f.pub.calls[0]) != `{"client_id":1,"event_id":"k1"}` {
		t.Fatalf("published: %q", f.pub.calls)
	}

	left, err := spool.ReadFile(w.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(left) != 1 || left[0].Source != spool.SourceLoader {
		t.Fatalf("spool after replay: %+v", left)
	}
}

func TestReplay_PublishFailureStaysPending(t *testing.T) {
	pub := &fakePublisher{err: errors.New("still down")}
	svc := NewService(pub, zap.NewNop())
	entries := []spool.Entry{
		{Source: spool.SourceIngest, Payload: `{"event_id":"a"}`},
		{Source: spool.SourceIngest, Payload: `{"event_id":"b"}`},
	}
	res, err := Replay(context.Background(), svc, entries, 1)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Skipped != 1 || len(res.Remaining) != 1 || res.Remaining[0].Payload != `{"event_id":"b"}` {
		t.Fatalf("result: %+v", res)
	}
}

func eventID(t *testing.T, body []byte) string {
	t.Helper()
	var rec map[string]any
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	id, _ := rec["event_id"].(string)
	return id
}

func TestReplayFile_KeepsKeysFromFailedAttempt(t *testing.T) {
	w, err := spool.NewFileWriter(t.TempDir(), "ingest.jsonl")
	if err != nil {
		t.Fatalf("spool: %v", err)
	}
	// The broker stores the message but the acknowledgement times out.
	f := newFixture(t, context.DeadlineExceeded, WithSpool(w))
	f.post(`{"client_id":7,"recorded_at":"2024-01-01 00:00:00"}`)
	if len(f.pub.calls) != 1 {
		t.Fatalf("want 1 publish attempt, got %d", len(f.pub.calls))
	}
	first := eventID(t, f.pub.calls[0])
	if first == "" {
		t.Fatalf("first attempt carried no key: %s", f.pub.calls[0])
	}

	f.pub.err = nil
	f.pub.calls = nil
	svc := NewService(f.pub, zap.NewNop(), WithKeyFunc(func() string { return "fresh-key" }))
	res, err := ReplayFile(context.Background(), svc, w.Path(), 0)
	if err != nil || res.Published != 1 {
		t.Fatalf("replay: %+v %v", res, err)
	}
	if got := eventID(t, f.pub.calls[0]); got != first {
		t.Fatalf("replay changed the key: first=%s replay=%s", first, got)
	}
}

func TestReplayFile_CancelledKeepsEachEntryOnce(t *testing.T) {
	w, err := spool.NewFileWriter(t.TempDir(), "ingest.jsonl")
	if err != nil {
		t.Fatalf("spool: %v", err)
	}
	for _, e := range []spool.Entry{
		{Source: spool.SourceIngest, Payload: `{"event_id":"a"}`},
		{Source: spool.SourceLoader, ID: "d-1", Payload: "%%%"},
		{Source: spool.SourceIngest, Payload: `{"event_id":"b"}`},
	} {
		if err := w.Append(e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pub := &fakePublisher{}
	_, err = ReplayFile(ctx, NewService(pub, zap.NewNop()), w.Path(), 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if len(pub.calls) != 0 {
		t.Fatalf("published after cancel: %d", len(pub.calls))
	}
	left, err := spool.ReadFile(w.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	counts := map[string]int{}
	for _, e := range left {
		counts[e.Source]++
	}
	if len(left) != 3 || counts[spool.SourceIngest] != 2 || counts[spool.SourceLoader] != 1 {
		t.Fatalf("spool after cancelled replay: %+v", left)
	}
}
