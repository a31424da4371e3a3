package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"salesflow/internal/spool"
)

// ReplayResult counts what happened to each spooled entry.
type ReplayResult struct {
	Published int
	Rejected  int
	Skipped   int
	// Remaining holds the entries that still could not be published, in
	// spool order, so the caller can write them back.
	Remaining []spool.Entry
}

// Replay runs spooled ingest payloads through the service again, starting at
// entry fromOffset. Entries carrying the key-decorated body are replayed from
// it, so a unit the broker stored before the failed acknowledgement comes back
// with the same keys.
func Replay(ctx context.Context, svc *Service, entries []spool.Entry, fromOffset int) (ReplayResult, error) {
	var res ReplayResult
	for i, e := range entries {
		if i < fromOffset || e.Source != spool.SourceIngest {
			res.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			for _, rest := range entries[i:] {
				if rest.Source == spool.SourceIngest {
					res.Remaining = append(res.Remaining, rest)
				}
			}
			return res, err
		}
		body := e.Payload
		if e.Normalized != "" {
			body = e.Normalized
		}
		_, err := svc.Ingest(ctx, []byte(body))
		switch {
		case err == nil:
			res.Published++
		case errors.Is(err, ErrPublish):
			res.Remaining = append(res.Remaining, e)
		default:
			// A spooled payload was valid when it was accepted; one that is not
			// now was edited by hand.
			res.Rejected++
			svc.log.Warn("spooled payload rejected on replay", zap.Int("entry", i), zap.Error(err))
		}
	}
	return res, nil
}

// ReplayFile replays the spool at path and rewrites it with the entries that
// are still pending.
func ReplayFile(ctx context.Context, svc *Service, path string, fromOffset int) (ReplayResult, error) {
	entries, err := spool.ReadFile(path)
	if err != nil {
		return ReplayResult{}, err
	}
	res, err := Replay(ctx, svc, entries, fromOffset)
	keep := make([]spool.Entry, 0, len(res.Remaining)+res.Skipped)
	for i, e := range entries {
		if i < fromOffset || e.Source != spool.SourceIngest {
			keep = append(keep, e)
		}
	}
	keep = append(keep, res.Remaining...)
	if werr := spool.Rewrite(path, keep); werr != nil {
		return res, fmt.Errorf("rewrite spool: %w", werr)
	}
	return res, err
}
