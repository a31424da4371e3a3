package record

import (
	"fmt"
	"strings"
	"time"
)

// KeyMode selects the conflict key a destination deduplicates on.
type KeyMode string

const (
	// KeyEventID deduplicates on the idempotency key.
	KeyEventID KeyMode = "event_id"
	// KeyClientTime is the fallback for tables without an event_id column.
	KeyClientTime KeyMode = "client_time"
)

// ParseKeyMode maps a config value onto a KeyMode; "" means KeyEventID.
func ParseKeyMode(s string) (KeyMode, error) {
	switch KeyMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", KeyEventID:
		return KeyEventID, nil
	case KeyClientTime:
		return KeyClientTime, nil
	default:
		return "", fmt.Errorf("unknown dedup key %q", s)
	}
}

// Columns returns the destination columns forming the conflict key.
func (m KeyMode) Columns() []string {
	if m == KeyClientTime {
		return []string{FieldClientID, FieldRecordedAt}
	}
	return []string{FieldEventID}
}

// ConflictKey returns the row's deduplication handle under mode m.
func (r Row) ConflictKey(m KeyMode) string {
	if m == KeyClientTime {
		return r.ClientID + "|" + r.RecordedAt.UTC().Format(time.RFC3339Nano)
	}
	return r.EventID
}
