package record

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Wire field names.
const (
	FieldEventID       = "event_id"
	FieldClientID      = "client_id"
	FieldClientName    = "client_name"
	FieldGender        = "gender"
	FieldProductID     = "product_id"
	FieldProductName   = "product_name"
	FieldUnitPrice     = "unit_price"
	FieldQuantity      = "quantity"
	FieldTotalAmount   = "total_amount"
	FieldPaymentMethod = "payment_method"
	FieldRecordedAt    = "recorded_at"
)

// legacyAliases maps the field names older producers still emit onto the
// canonical ones. A canonical field always wins over its alias.
var legacyAliases = map[string]string{
	FieldClientID:      "id_cliente",
	FieldClientName:    "cliente",
	FieldGender:        "genero",
	FieldProductID:     "id_producto",
	FieldProductName:   "producto",
	FieldUnitPrice:     "precio",
	FieldQuantity:      "cantidad",
	FieldTotalAmount:   "monto",
	FieldPaymentMethod: "forma_pago",
	FieldRecordedAt:    "fecreg",
}

// LegacyName returns the older wire name of a canonical field, or the field
// itself when it never had one.
func LegacyName(field string) string {
	if alias, ok := legacyAliases[field]; ok {
		return alias
	}
	return field
}

// Raw is a sale record as it travels on the wire. Values keep whatever JSON
// type the producer used; numbers are json.Number when decoded by this package.
type Raw map[string]any

// Lookup returns the value of a canonical field, falling back to its legacy alias.
func (r Raw) Lookup(field string) (any, bool) {
	if v, ok := r[field]; ok && v != nil {
		return v, true
	}
	if alias, ok := legacyAliases[field]; ok {
		if v, ok := r[alias]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// Key returns the idempotency key, or "" when the record has none.
func (r Raw) Key() string {
	v, ok := r[FieldEventID]
	if !ok {
		return ""
	}
	return strings.TrimSpace(stringify(v))
}

// HasKey reports whether the record already carries an idempotency key.
func (r Raw) HasKey() bool { return r.Key() != "" }

// Row is the cleaned projection of a Raw record, ready for the destination.
type Row struct {
	EventID       string    `json:"event_id" bigquery:"event_id"`
	ClientID      string    `json:"client_id" bigquery:"client_id"`
	ClientName    string    `json:"client_name" bigquery:"client_name"`
	Gender        string    `json:"gender" bigquery:"gender"`
	ProductID     string    `json:"product_id" bigquery:"product_id"`
	ProductName   string    `json:"product_name" bigquery:"product_name"`
	UnitPrice     float64   `json:"unit_price" bigquery:"unit_price"`
	Quantity      int64     `json:"quantity" bigquery:"quantity"`
	TotalAmount   float64   `json:"total_amount" bigquery:"total_amount"`
	PaymentMethod string    `json:"payment_method" bigquery:"payment_method"`
	RecordedAt    time.Time `json:"recorded_at" bigquery:"recorded_at"`
	ProcessedAt   time.Time `json:"processed_at" bigquery:"processed_at"`
}

// Columns is the destination column order used by every sink.
var Columns = []string{
	FieldEventID, FieldClientID, FieldClientName, FieldGender, FieldProductID,
	FieldProductName, FieldUnitPrice, FieldQuantity, FieldTotalAmount,
	FieldPaymentMethod, FieldRecordedAt, "processed_at",
}

// Values returns the row's values in Columns order.
func (r Row) Values() []any {
	return []any{
		r.EventID, r.ClientID, r.ClientName, r.Gender, r.ProductID,
		r.ProductName, r.UnitPrice, r.Quantity, r.TotalAmount,
		r.PaymentMethod, r.RecordedAt, r.ProcessedAt,
	}
}

// Build cleans a raw record into a Row stamped with processedAt.
// It fails with a *DropError when the record lacks its idempotency key or a
// parseable timestamp; no defaults are substituted for either.
func Build(raw Raw, processedAt time.Time) (Row, error) {
	key := raw.Key()
	if key == "" {
		return Row{}, &DropError{Reason: ReasonMissingKey}
	}
	tsVal, ok := raw.Lookup(FieldRecordedAt)
	if !ok || strings.TrimSpace(stringify(tsVal)) == "" {
		return Row{}, &DropError{Reason: ReasonMissingTimestamp}
	}
	tsStr, isString := tsVal.(string)
	if !isString {
		return Row{}, &DropError{Reason: ReasonBadTimestamp, Detail: fmt.Sprintf("recorded_at is %T, want string", tsVal)}
	}
	recordedAt, err := ParseTimestamp(tsStr)
	if err != nil {
		return Row{}, &DropError{Reason: ReasonBadTimestamp, Detail: err.Error()}
	}

	return Row{
		EventID:       key,
		ClientID:      identifier(raw, FieldClientID),
		ClientName:    category(raw, FieldClientName),
		Gender:        category(raw, FieldGender),
		ProductID:     identifier(raw, FieldProductID),
		ProductName:   category(raw, FieldProductName),
		UnitPrice:     toFloat(raw, FieldUnitPrice),
		Quantity:      toInt(raw, FieldQuantity),
		TotalAmount:   toFloat(raw, FieldTotalAmount),
		PaymentMethod: category(raw, FieldPaymentMethod),
		RecordedAt:    recordedAt,
		ProcessedAt:   processedAt.UTC(),
	}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp accepts RFC 3339 and the "YYYY-MM-DD HH:MM:SS" form the
// generator emits. Zone-less values are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func identifier(raw Raw, field string) string {
	v, _ := raw.Lookup(field)
	return strings.TrimSpace(stringify(v))
}

func category(raw Raw, field string) string {
	v, _ := raw.Lookup(field)
	return strings.ToUpper(strings.TrimSpace(stringify(v)))
}

func toFloat(raw Raw, field string) float64 {
	v, _ := raw.Lookup(field)
	f, ok := number(v)
	if !ok {
		return 0
	}
	return f
}

func toInt(raw Raw, field string) int64 {
	v, _ := raw.Lookup(field)
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
	}
	if s, ok := v.(string); ok {
		if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return i
		}
	}
	f, ok := number(v)
	if !ok || f >= int64Bound || f < -int64Bound {
		return 0
	}
	return int64(f)
}

// int64Bound is 2^63; floats at or beyond it do not convert to int64.
const int64Bound = 1 << 63

func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	// NaN and ±Inf are not storable values.
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprint(s)
	}
}
