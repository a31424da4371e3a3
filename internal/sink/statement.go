package sink

import (
	"fmt"
	"strings"

	"salesflow/internal/record"
)

// columnTypes maps record.Columns to SQL types shared by Postgres and DuckDB.
var columnTypes = map[string]string{
	record.FieldEventID:       "TEXT",
	record.FieldClientID:      "TEXT",
	record.FieldClientName:    "TEXT",
	record.FieldGender:        "TEXT",
	record.FieldProductID:     "TEXT",
	record.FieldProductName:   "TEXT",
	record.FieldUnitPrice:     "DOUBLE PRECISION",
	record.FieldQuantity:      "BIGINT",
	record.FieldTotalAmount:   "DOUBLE PRECISION",
	record.FieldPaymentMethod: "TEXT",
	record.FieldRecordedAt:    "TIMESTAMPTZ",
	"processed_at":            "TIMESTAMPTZ",
}

// insertIfAbsent builds a parameterized INSERT .. ON CONFLICT DO NOTHING.
// Values are never formatted into the statement; placeholder renders bind
// parameter i (1-based).
func insertIfAbsent(table string, key record.KeyMode, placeholder func(i int) string) string {
	cols := make([]string, len(record.Columns))
	params := make([]string, len(record.Columns))
	for i, c := range record.Columns {
		cols[i] = quoteIdent(c)
		params[i] = placeholder(i + 1)
	}
	conflict := make([]string, 0, 2)
	for _, c := range key.Columns() {
		conflict = append(conflict, quoteIdent(c))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		table, strings.Join(cols, ", "), strings.Join(params, ", "), strings.Join(conflict, ", "))
}

func createTable(table string, key record.KeyMode) string {
	defs := make([]string, 0, len(record.Columns)+1)
	for _, c := range record.Columns {
		def := quoteIdent(c) + " " + columnTypes[c]
		if c == record.FieldEventID || c == record.FieldRecordedAt {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	conflict := make([]string, 0, 2)
	for _, c := range key.Columns() {
		conflict = append(conflict, quoteIdent(c))
	}
	defs = append(defs, fmt.Sprintf("UNIQUE (%s)", strings.Join(conflict, ", ")))
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func dollar(i int) string { return fmt.Sprintf("$%d", i) }
