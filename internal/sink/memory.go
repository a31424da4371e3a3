package sink

import (
	"context"
	"sync"

	"salesflow/internal/record"
)

// Memory is an in-process destination keyed by table and conflict key.
type Memory struct {
	mu     sync.Mutex
	tables map[string]map[string]record.Row
	order  map[string][]string

	// FailWith, when set, makes the next Upsert fail with the returned error
	// before touching any row.
	FailWith func(req UpsertRequest) error
}

func NewMemory() *Memory {
	return &Memory{tables: map[string]map[string]record.Row{}, order: map[string][]string{}}
}

func (m *Memory) Upsert(_ context.Context, req UpsertRequest) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		if err := m.FailWith(req); err != nil {
			return Result{}, err
		}
	}
	name := req.Table.String()
	tbl, ok := m.tables[name]
	if !ok {
		tbl = map[string]record.Row{}
		m.tables[name] = tbl
	}
	res := Result{Attempted: len(req.Rows)}
	for _, row := range req.Rows {
		k := row.ConflictKey(req.Key)
		if _, exists := tbl[k]; exists {
			res.Skipped++
			continue
		}
		tbl[k] = row
		m.order[name] = append(m.order[name], k)
		res.Inserted++
	}
	return res, nil
}

// Rows returns the stored rows of a table in insertion order.
func (m *Memory) Rows(t Table) []record.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := t.String()
	out := make([]record.Row, 0, len(m.order[name]))
	for _, k := range m.order[name] {
		out = append(out, m.tables[name][k])
	}
	return out
}

func (m *Memory) Close() error { return nil }
