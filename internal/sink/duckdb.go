package sink

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"

	"salesflow/internal/record"
)

// DuckDB upserts into a local DuckDB file (or an in-memory database when
// path is empty).
type DuckDB struct {
	db *sql.DB
}

func NewDuckDB(path string) (*DuckDB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("duckdb: open: %w", err)
	}
	// DuckDB allows one writer per process.
	db.SetMaxOpenConns(1)
	return &DuckDB{db: db}, nil
}

func duckdbTable(t Table) string {
	if t.Dataset == "" {
		return quoteIdent(t.Name)
	}
	return quoteIdent(t.Dataset) + "." + quoteIdent(t.Name)
}

func (d *DuckDB) EnsureTable(ctx context.Context, t Table, key record.KeyMode) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.Dataset != "" {
		if _, err := d.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(t.Dataset)); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	if _, err := d.db.ExecContext(ctx, createTable(duckdbTable(t), key)); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

func (d *DuckDB) Upsert(ctx context.Context, req UpsertRequest) (Result, error) {
	if err := req.Table.Validate(); err != nil {
		return Result{}, err
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	res := Result{Attempted: len(req.Rows)}
	fail := func(err error) (Result, error) {
		return Result{Attempted: res.Attempted}, &WriteError{Attempted: res.Attempted, Failed: res.Attempted, Err: err}
	}
	stmt, err := tx.PrepareContext(ctx, insertIfAbsent(duckdbTable(req.Table), req.Key, dollar))
	if err != nil {
		return fail(err)
	}
	defer stmt.Close()
	for _, row := range req.Rows {
		r, err := stmt.ExecContext(ctx, row.Values()...)
		if err != nil {
			return fail(err)
		}
		if n, _ := r.RowsAffected(); n == 1 {
			res.Inserted++
		} else {
			res.Skipped++
		}
	}
	if err := tx.Commit(); err != nil {
		return fail(err)
	}
	return res, nil
}

// Count returns the number of rows stored in t.
func (d *DuckDB) Count(ctx context.Context, t Table) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+duckdbTable(t)).Scan(&n)
	return n, err
}

func (d *DuckDB) Close() error { return d.db.Close() }
