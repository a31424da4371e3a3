// Package loader turns one delivered transport unit into Load Rows and issues
// a single insert-if-absent upsert for them.
//
// Failure classes:
//   - unit-level (undecodable unit, destination unavailable): logged critical
//     and returned, so the channel redelivers or dead-letters the unit;
//   - record-level (missing key or timestamp): the record is dropped with a
//     reason, the rest of the unit proceeds;
//   - write-level (*sink.WriteError): logged critical, not returned, since a
//     redelivered unit is dedup-safe anyway.
package loader

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"salesflow/internal/logging"
	"salesflow/internal/metrics"
	"salesflow/internal/record"
	"salesflow/internal/sink"
	"salesflow/internal/spool"
)

// ErrDecode marks a unit whose data is not base64-wrapped JSON of the
// expected shape.
var ErrDecode = errors.New("undecodable unit")

// nowUTC stamps processed_at. Split for testability.
var nowUTC = func() time.Time { return time.Now().UTC() }

// Delivery is one transport unit as handed over by the channel: Data is the
// base64-wrapped unit, ID identifies the delivery for log correlation.
type Delivery struct {
	ID   string
	Data string
}

// Outcome is the per-record result of a unit. Reason is empty for records
// that produced a Load Row.
type Outcome struct {
	Index   int
	EventID string
	Reason  record.DropReason
	Detail  string
}

func (o Outcome) Dropped() bool { return o.Reason != "" }

// Report summarizes one processed unit.
type Report struct {
	DeliveryID string
	Shape      record.Shape
	Outcomes   []Outcome
	Rows       []record.Row
	Result     sink.Result
	// WriteErr is set when the destination rejected some or all rows.
	WriteErr error
}

// Dropped returns the drop reasons in record order.
func (r Report) Dropped() []record.DropReason {
	var out []record.DropReason
	for _, o := range r.Outcomes {
		if o.Dropped() {
			out = append(out, o.Reason)
		}
	}
	return out
}

type Processor struct {
	dest    sink.Destination
	table   sink.Table
	key     record.KeyMode
	log     *zap.Logger
	metrics *metrics.Registry
	spool   spool.Writer
}

type Option func(*Processor)

func WithKeyMode(m record.KeyMode) Option    { return func(p *Processor) { p.key = m } }
func WithMetrics(m *metrics.Registry) Option { return func(p *Processor) { p.metrics = m } }
func WithSpool(w spool.Writer) Option        { return func(p *Processor) { p.spool = w } }

func NewProcessor(dest sink.Destination, table sink.Table, log *zap.Logger, opts ...Option) *Processor {
	p := &Processor{
		dest:    dest,
		table:   table,
		key:     record.KeyEventID,
		log:     log,
		metrics: metrics.NewRegistry(),
		spool:   spool.Discard,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process handles one delivery. A non-nil error means the unit must be
// redelivered (or dead-lettered); everything else is absorbed and reported.
func (p *Processor) Process(ctx context.Context, d Delivery) (Report, error) {
	log := p.log.With(zap.String("delivery_id", d.ID))
	rep := Report{DeliveryID: d.ID}

	items, shape, err := decode(d.Data)
	if err != nil {
		p.metrics.Units.WithLabelValues("undecodable").Inc()
		log.Error("unit could not be decoded",
			logging.Critical,
			zap.String("payload", d.Data),
			zap.Error(err))
		p.spoolUnit(log, d, err)
		return rep, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	rep.Shape = shape

	processedAt := nowUTC()
	seen := make(map[string]int, len(items))
	for i, item := range items {
		out := Outcome{Index: i}
		row, err := buildRow(item, processedAt)
		if err == nil {
			out.EventID = row.EventID
			k := row.ConflictKey(p.key)
			if first, dup := seen[k]; dup {
				err = &record.DropError{Reason: record.ReasonDuplicateInUnit, Detail: fmt.Sprintf("same key as record %d", first)}
			} else {
				seen[k] = i
			}
		}
		if err != nil {
			var de *record.DropError
			if !errors.As(err, &de) {
				de = &record.DropError{Reason: record.ReasonNotObject, Detail: err.Error()}
			}
			out.Reason, out.Detail = de.Reason, de.Detail
			p.metrics.RecordsDropped.WithLabelValues(string(de.Reason)).Inc()
			log.Warn("record dropped",
				zap.Int("index", i),
				zap.String("reason", string(de.Reason)),
				zap.String("detail", de.Detail),
				zap.Any("record", item))
		} else {
			rep.Rows = append(rep.Rows, row)
		}
		rep.Outcomes = append(rep.Outcomes, out)
	}

	if len(rep.Rows) == 0 {
		p.metrics.Units.WithLabelValues("empty").Inc()
		log.Info("nothing to load", zap.Int("records", len(items)), zap.Int("dropped", len(items)))
		return rep, nil
	}

	t0 := time.Now()
	res, err := p.dest.Upsert(ctx, sink.UpsertRequest{Table: p.table, Rows: rep.Rows, Key: p.key})
	p.metrics.UpsertSec.Observe(time.Since(t0).Seconds())
	rep.Result = res
	p.metrics.RowsInserted.Add(float64(res.Inserted))
	p.metrics.RowsSkipped.Add(float64(res.Skipped))

	var we *sink.WriteError
	switch {
	case err == nil:
		p.metrics.Units.WithLabelValues("loaded").Inc()
		log.Info("unit loaded",
			zap.String("table", p.table.String()),
			zap.Int("records", len(items)),
			zap.Int("rows", len(rep.Rows)),
			zap.Int("inserted", res.Inserted),
			zap.Int("skipped", res.Skipped),
			zap.Int("dropped", len(items)-len(rep.Rows)))
		return rep, nil
	case errors.As(err, &we):
		rep.WriteErr = err
		p.metrics.Units.WithLabelValues("write_failed").Inc()
		log.Error("upsert failed",
			logging.Critical,
			zap.String("table", p.table.String()),
			zap.Int("rows", len(rep.Rows)),
			zap.Int("failed", we.Failed),
			zap.Strings("failed_keys", we.FailedKeys),
			zap.Error(err))
		return rep, nil
	default:
		p.metrics.Units.WithLabelValues("unavailable").Inc()
		log.Error("destination unavailable",
			logging.Critical,
			zap.String("table", p.table.String()),
			zap.Int("rows", len(rep.Rows)),
			zap.Error(err))
		p.spoolUnit(log, d, err)
		return rep, fmt.Errorf("upsert %s: %w", p.table, err)
	}
}

func (p *Processor) spoolUnit(log *zap.Logger, d Delivery, cause error) {
	if err := p.spool.Append(spool.Entry{
		Source:  spool.SourceLoader,
		Reason:  cause.Error(),
		ID:      d.ID,
		Payload: d.Data,
	}); err != nil {
		log.Error("spool append failed", zap.Error(err))
	}
}

func decode(data string) ([]any, record.Shape, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, 0, fmt.Errorf("base64: %w", err)
	}
	return record.DecodeSequence(raw)
}

func buildRow(item any, processedAt time.Time) (record.Row, error) {
	raw, ok := item.(record.Raw)
	if !ok {
		return record.Row{}, &record.DropError{Reason: record.ReasonNotObject, Detail: fmt.Sprintf("%T", item)}
	}
	return record.Build(raw, processedAt)
}
