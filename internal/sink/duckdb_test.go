package sink

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"salesflow/internal/record"
)

func TestDuckDB_InsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	d, err := NewDuckDB(filepath.Join(t.TempDir(), "sales.duckdb"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	tbl := Table{Dataset: "sales", Name: "events"}
	if err := d.EnsureTable(ctx, tbl, record.KeyEventID); err != nil {
		t.Fatalf("ensure table: %v", err)
	}

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	req := UpsertRequest{Table: tbl, Key: record.KeyEventID, Rows: []record.Row{
		{EventID: "a", ClientID: "1", ClientName: "O'HARA", UnitPrice: 1.5, Quantity: 2, TotalAmount: 3, RecordedAt: ts, ProcessedAt: ts},
		{EventID: "b", ClientID: "2", RecordedAt: ts, ProcessedAt: ts},
	}}
	if _, err := d.Upsert(ctx, req); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if _, err := d.Upsert(ctx, req); err != nil {
		t.Fatalf("redelivered upsert: %v", err)
	}
	n, err := d.Count(ctx, tbl)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("want 2 rows after redelivery, got %d", n)
	}
}
