package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Shape is the top-level JSON shape of a payload.
type Shape int

const (
	ShapeSingle Shape = iota + 1
	ShapeBatch
)

func (s Shape) String() string {
	switch s {
	case ShapeSingle:
		return "single"
	case ShapeBatch:
		return "batch"
	default:
		return "unknown"
	}
}

var (
	// ErrNotJSON wraps any syntax error from the payload.
	ErrNotJSON = errors.New("payload is not valid json")
	// ErrShape is returned when the top level is neither an object nor an array.
	ErrShape = errors.New("payload is neither a json object nor a json array")
)

// DecodeSequence parses a payload and returns it as an ordered sequence of
// elements, whatever its top-level shape. Object elements are returned as Raw;
// anything else inside an array is returned as decoded. Numbers stay json.Number.
func DecodeSequence(data []byte) ([]any, Shape, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	if dec.More() {
		return nil, 0, fmt.Errorf("%w: trailing data after top-level value", ErrNotJSON)
	}
	switch top := v.(type) {
	case map[string]any:
		return []any{Raw(top)}, ShapeSingle, nil
	case []any:
		out := make([]any, len(top))
		for i, el := range top {
			if m, ok := el.(map[string]any); ok {
				out[i] = Raw(m)
				continue
			}
			out[i] = el
		}
		return out, ShapeBatch, nil
	default:
		return nil, 0, fmt.Errorf("%w: got %T", ErrShape, v)
	}
}

// EncodeSequence serialises records back in the given shape. A single-shaped
// sequence must hold exactly one record.
func EncodeSequence(records []Raw, shape Shape) ([]byte, error) {
	switch shape {
	case ShapeSingle:
		if len(records) != 1 {
			return nil, fmt.Errorf("single shape needs one record, have %d", len(records))
		}
		return json.Marshal(records[0])
	case ShapeBatch:
		if records == nil {
			records = []Raw{}
		}
		return json.Marshal(records)
	default:
		return nil, fmt.Errorf("unknown shape %d", shape)
	}
}
