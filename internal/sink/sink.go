// Package sink writes Load Rows to the analytical destination with
// insert-if-absent semantics: rows whose conflict key already exists are
// skipped, never updated and never deleted.
package sink

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"salesflow/internal/record"
)

// ErrUnavailable marks failures that happened before any row was attempted
// (connection, session or transaction start). Callers re-raise these so the
// channel redelivers the whole unit.
var ErrUnavailable = errors.New("destination unavailable")

// Table identifies the destination table.
type Table struct {
	Project string
	Dataset string
	Name    string
}

var (
	projectPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]*$`)
	namePattern    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Validate rejects identifiers that could not be used as-is in a statement.
func (t Table) Validate() error {
	if t.Project != "" && !projectPattern.MatchString(t.Project) {
		return fmt.Errorf("invalid project identifier %q", t.Project)
	}
	if t.Dataset != "" && !namePattern.MatchString(t.Dataset) {
		return fmt.Errorf("invalid dataset identifier %q", t.Dataset)
	}
	if !namePattern.MatchString(t.Name) {
		return fmt.Errorf("invalid table identifier %q", t.Name)
	}
	return nil
}

func (t Table) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{t.Project, t.Dataset, t.Name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// UpsertRequest is UPSERT(table, rows, conflict_key).
type UpsertRequest struct {
	Table Table
	Rows  []record.Row
	Key   record.KeyMode
}

// Result counts what the destination did with the rows it was given.
type Result struct {
	Attempted int
	Inserted  int
	Skipped   int
}

// WriteError reports a partial or total failure of an upsert call after rows
// were handed to the destination.
type WriteError struct {
	Attempted int
	Failed    int
	// FailedKeys holds the conflict keys known to have failed, when the
	// destination reports them per row.
	FailedKeys []string
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("upsert failed for %d of %d rows: %v", e.Failed, e.Attempted, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Destination performs deduplicating upserts.
type Destination interface {
	Upsert(ctx context.Context, req UpsertRequest) (Result, error)
	Close() error
}

// TableCreator is implemented by destinations that can create the table
// with the uniqueness constraint the conflict key needs.
type TableCreator interface {
	EnsureTable(ctx context.Context, t Table, key record.KeyMode) error
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
