package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"salesflow/internal/record"
)

const postgresOperationTimeout = 30 * time.Second

// Postgres upserts with INSERT .. ON CONFLICT DO NOTHING inside one
// transaction per call.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres: empty dsn")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func postgresTable(t Table) string {
	if t.Dataset == "" {
		return pgx.Identifier{t.Name}.Sanitize()
	}
	return pgx.Identifier{t.Dataset, t.Name}.Sanitize()
}

func (p *Postgres) EnsureTable(ctx context.Context, t Table, key record.KeyMode) error {
	if err := t.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	if t.Dataset != "" {
		if _, err := p.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{t.Dataset}.Sanitize()); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	if _, err := p.pool.Exec(ctx, createTable(postgresTable(t), key)); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

func (p *Postgres) Upsert(ctx context.Context, req UpsertRequest) (Result, error) {
	if err := req.Table.Validate(); err != nil {
		return Result{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Result{}, unavailable(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stmt := insertIfAbsent(postgresTable(req.Table), req.Key, dollar)
	batch := &pgx.Batch{}
	for _, row := range req.Rows {
		batch.Queue(stmt, row.Values()...)
	}
	res := Result{Attempted: len(req.Rows)}
	br := tx.SendBatch(ctx, batch)
	for range req.Rows {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return Result{Attempted: res.Attempted}, &WriteError{Attempted: res.Attempted, Failed: res.Attempted, Err: err}
		}
		if tag.RowsAffected() == 1 {
			res.Inserted++
		} else {
			res.Skipped++
		}
	}
	if err := br.Close(); err != nil {
		return Result{Attempted: res.Attempted}, &WriteError{Attempted: res.Attempted, Failed: res.Attempted, Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{Attempted: res.Attempted}, &WriteError{Attempted: res.Attempted, Failed: res.Attempted, Err: err}
	}
	return res, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
