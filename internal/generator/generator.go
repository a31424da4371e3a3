// Package generator produces synthetic sale records for exercising the
// pipeline end to end.
package generator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"salesflow/internal/channel"
	"salesflow/internal/record"
)

// TimestampLayout is how recorded_at is rendered.
const TimestampLayout = "2006-01-02 15:04:05"

type Client struct {
	ID     int
	Name   string
	Gender string
}

type Product struct {
	ID        int
	Name      string
	BasePrice float64
}

var Clients = []Client{
	{1, "RAUL OPAZO", "H"},
	{2, "ALEJANDRO PÉREZ", "H"},
	{3, "FELIPE MUÑOZ", "H"},
	{5, "MAURICIO CORREA", "H"},
	{6, "CAROLINA LÓPEZ", "M"},
	{8, "PAOLA ROJAS", "M"},
	{9, "MARLÉN SOTO", "M"},
	{10, "LUISA TORRES", "M"},
	{11, "SOFIA VERGARA", "M"},
	{12, "JAVIER BARDEM", "H"},
	{13, "ISABEL ALLENDE", "M"},
	{14, "ANTONIO BANDERAS", "H"},
}

var Products = []Product{
	{1, "AMAZON", 151.48},
	{2, "NVIDIA", 537.94},
	{3, "META", 359.09},
	{4, "ALPHABET", 141.25},
	{5, "MICROSOFT", 375.60},
	{6, "DELTA", 42.22},
	{7, "APPLE", 184.85},
	{8, "SALESFORCE", 263.09},
	{9, "DISNEY", 90.24},
	{10, "CISCO", 49.74},
}

var PaymentMethods = []string{"CRÉDITO", "DÉBITO", "EFECTIVO"}

const (
	minInterval = 500 * time.Millisecond
	maxInterval = 2 * time.Second
)

// Generator is not safe for concurrent use; *rand.Rand is not.
type Generator struct {
	rnd   *rand.Rand
	now   func() time.Time
	newID func() string

	// Legacy emits the older field names (id_cliente, precio, fecreg, ...).
	Legacy bool
}

func New(rnd *rand.Rand) *Generator {
	return &Generator{rnd: rnd, now: time.Now, newID: uuid.NewString}
}

func cents(v float64) float64 { return math.Round(v*100) / 100 }

// Record returns one sale with its idempotency key already assigned.
func (g *Generator) Record() record.Raw {
	c := Clients[g.rnd.Intn(len(Clients))]
	p := Products[g.rnd.Intn(len(Products))]
	qty := 1 + g.rnd.Intn(100)
	price := cents(p.BasePrice * (0.95 + 0.1*g.rnd.Float64()))
	fields := map[string]any{
		record.FieldEventID:       g.newID(),
		record.FieldClientID:      c.ID,
		record.FieldClientName:    c.Name,
		record.FieldGender:        c.Gender,
		record.FieldProductID:     p.ID,
		record.FieldProductName:   p.Name,
		record.FieldUnitPrice:     price,
		record.FieldQuantity:      qty,
		record.FieldTotalAmount:   cents(price * float64(qty)),
		record.FieldPaymentMethod: PaymentMethods[g.rnd.Intn(len(PaymentMethods))],
		record.FieldRecordedAt:    g.now().Format(TimestampLayout),
	}
	if !g.Legacy {
		return record.Raw(fields)
	}
	out := make(record.Raw, len(fields))
	for k, v := range fields {
		out[record.LegacyName(k)] = v
	}
	return out
}

// Payload encodes n records: a single object when n <= 1, an array otherwise.
func (g *Generator) Payload(n int) ([]record.Raw, []byte, error) {
	if n <= 1 {
		r := g.Record()
		b, err := record.EncodeSequence([]record.Raw{r}, record.ShapeSingle)
		return []record.Raw{r}, b, err
	}
	recs := make([]record.Raw, n)
	for i := range recs {
		recs[i] = g.Record()
	}
	b, err := record.EncodeSequence(recs, record.ShapeBatch)
	return recs, b, err
}

// Interval returns a pause in [0.5s, 2s).
func (g *Generator) Interval() time.Duration {
	return minInterval + time.Duration(g.rnd.Int63n(int64(maxInterval-minInterval)))
}

// RunOptions controls Run. Count 0 publishes until ctx is done.
type RunOptions struct {
	Count int
	Batch int
	// Sleep waits between publishes; nil uses a timer honouring ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Run publishes payloads until Count is reached or ctx is cancelled and
// returns the number of published payloads.
func (g *Generator) Run(ctx context.Context, pub channel.Publisher, opts RunOptions, log *zap.Logger) (int, error) {
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	sent := 0
	for ctx.Err() == nil && (opts.Count == 0 || sent < opts.Count) {
		recs, body, err := g.Payload(opts.Batch)
		if err != nil {
			return sent, fmt.Errorf("encode payload: %w", err)
		}
		id, err := pub.Publish(ctx, body)
		if err != nil {
			return sent, fmt.Errorf("publish: %w", err)
		}
		sent++
		first := recs[0]
		log.Info("published",
			zap.String("message_id", id),
			zap.Int("records", len(recs)),
			zap.Any("client", first[fieldName(g.Legacy, record.FieldClientName)]),
			zap.Any("product", first[fieldName(g.Legacy, record.FieldProductName)]),
			zap.Any("quantity", first[fieldName(g.Legacy, record.FieldQuantity)]))

		if opts.Count != 0 && sent == opts.Count {
			break
		}
		if err := sleep(ctx, g.Interval()); err != nil {
			if ctx.Err() != nil {
				return sent, nil
			}
			return sent, err
		}
	}
	return sent, nil
}

func fieldName(legacy bool, f string) string {
	if legacy {
		return record.LegacyName(f)
	}
	return f
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
