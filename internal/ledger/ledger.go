package ledger

import (
	"sync"
	"time"
)

// Ledger remembers which conflict keys have already been written to a
// destination that cannot check for them atomically.
type Ledger interface {
	Seen(key string) (bool, error)
	Mark(keys []string, at time.Time) error
	Close() error
}

// InMemory is a thread-safe map ledger.
type InMemory struct {
	mu   sync.RWMutex
	data map[string]time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{data: make(map[string]time.Time)}
}

func (l *InMemory) Seen(key string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.data[key]
	return ok, nil
}

func (l *InMemory) Mark(keys []string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		if _, ok := l.data[k]; !ok {
			l.data[k] = at
		}
	}
	return nil
}

func (l *InMemory) Close() error { return nil }
