package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"

	"salesflow/internal/record"
)

// BigQueryMode selects how rows reach BigQuery.
type BigQueryMode string

const (
	// BigQueryMerge runs one parameterized MERGE per call; conflict checks
	// are atomic in the destination.
	BigQueryMerge BigQueryMode = "merge"
	// BigQueryStream uses the streaming insert API with the conflict key as
	// insert id. Its dedup is best effort, so wrap it with Guarded.
	BigQueryStream BigQueryMode = "stream"
)

type BigQuery struct {
	client *bigquery.Client
	mode   BigQueryMode
}

func NewBigQuery(ctx context.Context, projectID string, mode BigQueryMode) (*BigQuery, error) {
	switch mode {
	case "":
		mode = BigQueryMerge
	case BigQueryMerge, BigQueryStream:
	default:
		return nil, fmt.Errorf("bigquery: unknown mode %q", mode)
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("bigquery: new client: %w", err)
	}
	return &BigQuery{client: client, mode: mode}, nil
}

func (b *BigQuery) Upsert(ctx context.Context, req UpsertRequest) (Result, error) {
	if err := req.Table.Validate(); err != nil {
		return Result{}, err
	}
	if req.Table.Project == "" || req.Table.Dataset == "" {
		return Result{}, fmt.Errorf("bigquery: table %q needs project and dataset", req.Table)
	}
	if b.mode == BigQueryStream {
		return b.stream(ctx, req)
	}
	return b.merge(ctx, req)
}

// mergeStatement inserts source rows whose conflict key is absent from the
// target. Rows arrive as the @rows array parameter.
func mergeStatement(t Table, key record.KeyMode) string {
	on := make([]string, 0, 2)
	for _, c := range key.Columns() {
		on = append(on, fmt.Sprintf("T.%s = S.%s", c, c))
	}
	src := make([]string, len(record.Columns))
	for i, c := range record.Columns {
		src[i] = "S." + c
	}
	return fmt.Sprintf("MERGE `%s` T\nUSING UNNEST(@rows) S\nON %s\nWHEN NOT MATCHED THEN\n  INSERT (%s)\n  VALUES (%s)",
		t.String(), strings.Join(on, " AND "), strings.Join(record.Columns, ", "), strings.Join(src, ", "))
}

func (b *BigQuery) merge(ctx context.Context, req UpsertRequest) (Result, error) {
	q := b.client.Query(mergeStatement(req.Table, req.Key))
	q.Parameters = []bigquery.QueryParameter{{Name: "rows", Value: req.Rows}}
	res := Result{Attempted: len(req.Rows)}

	job, err := q.Run(ctx)
	if err != nil {
		return Result{}, unavailable(err)
	}
	status, err := job.Wait(ctx)
	if err == nil {
		err = status.Err()
	}
	if err != nil {
		return Result{Attempted: res.Attempted}, &WriteError{Attempted: res.Attempted, Failed: res.Attempted, Err: fmt.Errorf("job %s: %w", job.ID(), err)}
	}
	if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		res.Inserted = int(qs.NumDMLAffectedRows)
		res.Skipped = res.Attempted - res.Inserted
	}
	return res, nil
}

func (b *BigQuery) stream(ctx context.Context, req UpsertRequest) (Result, error) {
	savers := make([]*bigquery.StructSaver, len(req.Rows))
	for i := range req.Rows {
		savers[i] = &bigquery.StructSaver{Struct: req.Rows[i], InsertID: req.Rows[i].ConflictKey(req.Key)}
	}
	ins := b.client.Dataset(req.Table.Dataset).Table(req.Table.Name).Inserter()
	res := Result{Attempted: len(req.Rows)}
	err := ins.Put(ctx, savers)
	if err == nil {
		res.Inserted = res.Attempted
		return res, nil
	}
	var multi bigquery.PutMultiError
	if !errors.As(err, &multi) {
		return Result{}, unavailable(err)
	}
	failed := make(map[int]struct{}, len(multi))
	var keys []string
	for _, rowErr := range multi {
		if _, dup := failed[rowErr.RowIndex]; dup || rowErr.RowIndex < 0 || rowErr.RowIndex >= len(req.Rows) {
			continue
		}
		failed[rowErr.RowIndex] = struct{}{}
		keys = append(keys, req.Rows[rowErr.RowIndex].ConflictKey(req.Key))
	}
	res.Inserted = res.Attempted - len(failed)
	return res, &WriteError{Attempted: res.Attempted, Failed: len(failed), FailedKeys: keys, Err: err}
}

func (b *BigQuery) Close() error { return b.client.Close() }
