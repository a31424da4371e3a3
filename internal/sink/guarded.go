package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salesflow/internal/ledger"
	"salesflow/internal/record"
)

// Guarded adds a ledger round-trip in front of a destination whose own
// conflict handling is not atomic: rows already in the ledger are skipped,
// and rows the destination accepted are recorded after the call.
type Guarded struct {
	inner  Destination
	ledger ledger.Ledger
	now    func() time.Time
}

func NewGuarded(inner Destination, l ledger.Ledger) *Guarded {
	return &Guarded{inner: inner, ledger: l, now: time.Now}
}

func ledgerKey(req UpsertRequest, row record.Row) string {
	return req.Table.String() + "/" + row.ConflictKey(req.Key)
}

func (g *Guarded) Upsert(ctx context.Context, req UpsertRequest) (Result, error) {
	fresh := make([]record.Row, 0, len(req.Rows))
	for _, row := range req.Rows {
		seen, err := g.ledger.Seen(ledgerKey(req, row))
		if err != nil {
			return Result{}, unavailable(fmt.Errorf("ledger: %w", err))
		}
		if !seen {
			fresh = append(fresh, row)
		}
	}
	skipped := len(req.Rows) - len(fresh)
	if len(fresh) == 0 {
		return Result{Attempted: len(req.Rows), Skipped: skipped}, nil
	}

	inner := req
	inner.Rows = fresh
	res, err := g.inner.Upsert(ctx, inner)
	res.Attempted = len(req.Rows)
	res.Skipped += skipped

	accepted := acceptedKeys(req, fresh, err)
	if len(accepted) > 0 {
		if merr := g.ledger.Mark(accepted, g.now()); merr != nil && err == nil {
			// The rows are written; a later redelivery falls back on the
			// destination's own dedup.
			err = &WriteError{Attempted: len(fresh), Err: fmt.Errorf("ledger mark: %w", merr)}
		}
	}
	return res, err
}

// acceptedKeys returns the ledger keys of rows the destination is known to
// have taken.
func acceptedKeys(req UpsertRequest, rows []record.Row, err error) []string {
	var failed map[string]struct{}
	if err != nil {
		var we *WriteError
		if !errors.As(err, &we) || len(we.FailedKeys) == 0 || we.Failed >= len(rows) {
			return nil
		}
		failed = make(map[string]struct{}, len(we.FailedKeys))
		for _, k := range we.FailedKeys {
			failed[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		if _, bad := failed[row.ConflictKey(req.Key)]; bad {
			continue
		}
		keys = append(keys, ledgerKey(req, row))
	}
	return keys
}

func (g *Guarded) Close() error {
	err := g.inner.Close()
	if lerr := g.ledger.Close(); err == nil {
		err = lerr
	}
	return err
}
