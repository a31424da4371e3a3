package ledger

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble"
)

// Pebble implements Ledger on PebbleDB. Values hold the first-seen time as
// big-endian unix nanoseconds.
type Pebble struct {
	db *pebble.DB
}

func NewPebble(dir string) (*Pebble, error) {
	opts := &pebble.Options{
		MemTableSize:          64 << 20,
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 8,
	}
	d, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &Pebble{db: d}, nil
}

func (p *Pebble) Close() error { return p.db.Close() }

func (p *Pebble) Seen(key string) (bool, error) {
	_, closer, err := p.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = closer.Close()
	return true, nil
}

// Mark records keys in one synced batch. Already-present keys keep their
// original timestamp.
func (p *Pebble) Mark(keys []string, at time.Time) error {
	if len(keys) == 0 {
		return nil
	}
	var val [8]byte
	binary.BigEndian.PutUint64(val[:], uint64(at.UnixNano()))
	wb := p.db.NewBatch()
	defer wb.Close()
	for _, k := range keys {
		seen, err := p.Seen(k)
		if err != nil {
			return err
		}
		if seen {
			continue
		}
		if err := wb.Set([]byte(k), val[:], nil); err != nil {
			return err
		}
	}
	return wb.Commit(pebble.Sync)
}

// FirstSeen returns when key was first marked.
func (p *Pebble) FirstSeen(key string) (time.Time, bool) {
	v, closer, err := p.db.Get([]byte(key))
	if err != nil {
		return time.Time{}, false
	}
	defer closer.Close()
	if len(v) != 8 {
		return time.Time{}, false
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(v))).UTC(), true
}
