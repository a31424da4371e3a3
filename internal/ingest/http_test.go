package ingest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"salesflow/internal/metrics"
	"salesflow/internal/spool"
)

type fakePublisher struct {
	calls [][]byte
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, data []byte) (string, error) {
	f.calls = append(f.calls, data)
	if f.err != nil {
		return "", f.err
	}
	return "msg-1", nil
}

type fixture struct {
	pub  *fakePublisher
	logs *observer.ObservedLogs
	reg  *metrics.Registry
	srv  http.Handler
}

func newFixture(t *testing.T, pubErr error, opts ...Option) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	pub := &fakePublisher{err: pubErr}
	reg := metrics.NewRegistry()
	opts = append([]Option{WithMetrics(reg), WithKeyFunc(seqKeys())}, opts...)
	svc := NewService(pub, zap.New(core), opts...)
	return &fixture{pub: pub, logs: logs, reg: reg, srv: NewRouter(svc, 1024, reg.Handler())}
}

func (f *fixture) post(body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	return rec
}

func TestIngest_PublishesOnce(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post(`[{"client_id":1},{"event_id":"b","client_id":2}]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Message-Id") != "msg-1" {
		t.Fatalf("missing message id header")
	}
	if len(f.pub.calls) != 1 {
		t.Fatalf("want 1 publish, got %d", len(f.pub.calls))
	}
	if !strings.Contains(string(f.pub.calls[0]), `"event_id":"gen-1"`) {
		t.Fatalf("published body lacks generated key: %s", f.pub.calls[0])
	}

	entries := f.logs.FilterMessage("payload published").All()
	if len(entries) != 1 {
		t.Fatalf("want one outcome log entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["message_id"] != "msg-1" || ctx["keys_generated"] != int64(1) || ctx["outcome"] != "published" {
		t.Fatalf("log fields: %v", ctx)
	}
	if got := testutil.ToFloat64(f.reg.KeysGenerated); got != 1 {
		t.Fatalf("keys generated metric=%v", got)
	}
}

func TestIngest_EmptyAndMalformedRejectedWithoutPublish(t *testing.T) {
	for _, body := range []string{"", `{"client_id":1`, `true`} {
		f := newFixture(t, nil)
		rec := f.post(body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%q: status=%d", body, rec.Code)
		}
		if !strings.HasPrefix(rec.Body.String(), "payload rejected") {
			t.Fatalf("%q: body=%s", body, rec.Body)
		}
		if len(f.pub.calls) != 0 {
			t.Fatalf("%q: publish attempted", body)
		}
		if f.logs.FilterMessage("payload rejected").Len() != 1 {
			t.Fatalf("%q: missing rejection log", body)
		}
	}
}

func TestIngest_PublishFailureIs500AndSpooled(t *testing.T) {
	w, err := spool.NewFileWriter(t.TempDir(), "ingest.jsonl")
	if err != nil {
		t.Fatalf("spool: %v", err)
	}
	f := newFixture(t, errors.New("broker down"), WithSpool(w))
	body := `{"client_id":9}`
	rec := f.post(body)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rec.Code)
	}
	entries := f.logs.FilterMessage("publish to channel failed").All()
	if len(entries) != 1 {
		t.Fatalf("want 1 failure log, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["original_payload"] != body || ctx["severity"] != "CRITICAL" {
		t.Fatalf("log fields: %v", ctx)
	}
	spooled, err := spool.ReadFile(filepath.Join(filepath.Dir(w.Path()), "ingest.jsonl"))
	if err != nil || len(spooled) != 1 || spooled[0].Payload != body {
		t.Fatalf("spool: %+v %v", spooled, err)
	}
	if spooled[0].Normalized != `{"client_id":9,"event_id":"gen-1"}` {
		t.Fatalf("spooled normalized body: %q", spooled[0].Normalized)
	}
	if got := testutil.ToFloat64(f.reg.Requests.WithLabelValues("publish_failed")); got != 1 {
		t.Fatalf("publish_failed metric=%v", got)
	}
}

func TestIngest_BodyTooLarge(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post(`{"x":"` + strings.Repeat("a", 2048) + `"}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status=%d", rec.Code)
	}
	if len(f.pub.calls) != 0 {
		t.Fatalf("publish attempted")
	}
}

func TestRouter_HealthAndMethods(t *testing.T) {
	f := newFixture(t, nil)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz=%d", rec.Code)
	}
	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET / = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "salesflow_ingest_publish_seconds") {
		t.Fatalf("metrics not served")
	}
}
