package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"salesflow/internal/channel"
	"salesflow/internal/logging"
	"salesflow/internal/metrics"
	"salesflow/internal/spool"
)

// Service normalizes webhook payloads and publishes them, one publish per
// accepted payload.
type Service struct {
	pub     channel.Publisher
	log     *zap.Logger
	metrics *metrics.Registry
	spool   spool.Writer
	newKey  KeyFunc
}

type Option func(*Service)

func WithKeyFunc(f KeyFunc) Option           { return func(s *Service) { s.newKey = f } }
func WithSpool(w spool.Writer) Option        { return func(s *Service) { s.spool = w } }
func WithMetrics(m *metrics.Registry) Option { return func(s *Service) { s.metrics = m } }

func NewService(pub channel.Publisher, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		pub:     pub,
		log:     log,
		metrics: metrics.NewRegistry(),
		spool:   spool.Discard,
		newKey:  uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Result describes an accepted payload.
type Result struct {
	Normalized
	MessageID string
}

// Ingest runs one payload through normalization and publish. Errors wrap
// ErrEmptyPayload, ErrMalformedPayload, ErrUnsupportedPayloadShape (caller
// faults) or ErrPublish.
func (s *Service) Ingest(ctx context.Context, payload []byte) (Result, error) {
	n, err := Normalize(payload, s.newKey)
	if err != nil {
		outcome := rejectOutcome(err)
		s.metrics.Requests.WithLabelValues(outcome).Inc()
		s.log.Warn("payload rejected",
			zap.String("outcome", outcome),
			zap.Int("keys_generated", 0),
			zap.Int("payload_bytes", len(payload)),
			zap.Error(err))
		return Result{}, err
	}
	s.metrics.KeysGenerated.Add(float64(n.KeysGenerated))

	t0 := time.Now()
	id, err := s.pub.Publish(ctx, n.Body)
	s.metrics.PublishSec.Observe(time.Since(t0).Seconds())
	if err != nil {
		s.metrics.Requests.WithLabelValues("publish_failed").Inc()
		s.log.Error("publish to channel failed",
			logging.Critical,
			zap.String("outcome", "publish_failed"),
			zap.Int("keys_generated", n.KeysGenerated),
			zap.Int("records", n.Records),
			zap.String("original_payload", string(payload)),
			zap.Error(err))
		if serr := s.spool.Append(spool.Entry{
			Source:     spool.SourceIngest,
			Reason:     err.Error(),
			Payload:    string(payload),
			Normalized: string(n.Body),
		}); serr != nil {
			s.log.Error("spool append failed", zap.Error(serr))
		}
		return Result{Normalized: n}, fmt.Errorf("%w: %v", ErrPublish, err)
	}

	s.metrics.Requests.WithLabelValues("published").Inc()
	s.log.Info("payload published",
		zap.String("outcome", "published"),
		zap.String("shape", n.Shape.String()),
		zap.Int("records", n.Records),
		zap.Int("keys_generated", n.KeysGenerated),
		zap.String("message_id", id))
	return Result{Normalized: n, MessageID: id}, nil
}

func rejectOutcome(err error) string {
	switch {
	case errors.Is(err, ErrEmptyPayload):
		return "empty_payload"
	case errors.Is(err, ErrUnsupportedPayloadShape):
		return "unsupported_shape"
	default:
		return "malformed_payload"
	}
}
