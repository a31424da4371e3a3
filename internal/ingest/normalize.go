package ingest

import (
	"bytes"
	"errors"
	"fmt"

	"salesflow/internal/record"
)

var (
	ErrEmptyPayload            = errors.New("empty payload")
	ErrMalformedPayload        = errors.New("malformed payload")
	ErrUnsupportedPayloadShape = errors.New("unsupported payload shape")
	ErrPublish                 = errors.New("publish failed")
)

// KeyFunc returns a fresh idempotency key.
type KeyFunc func() string

// Normalized is a key-decorated payload ready for the channel.
type Normalized struct {
	Body          []byte
	Shape         record.Shape
	Records       int
	KeysGenerated int
}

// Normalize parses payload, attaches a key from newKey to every record that
// lacks one and re-encodes it in its original top-level shape.
func Normalize(payload []byte, newKey KeyFunc) (Normalized, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return Normalized{}, ErrEmptyPayload
	}
	seq, shape, err := record.DecodeSequence(payload)
	switch {
	case errors.Is(err, record.ErrShape):
		return Normalized{}, fmt.Errorf("%w: %v", ErrUnsupportedPayloadShape, err)
	case err != nil:
		return Normalized{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	records := make([]record.Raw, 0, len(seq))
	generated := 0
	for i, el := range seq {
		raw, ok := el.(record.Raw)
		if !ok {
			return Normalized{}, fmt.Errorf("%w: element %d is %T, want object", ErrUnsupportedPayloadShape, i, el)
		}
		if !raw.HasKey() {
			raw[record.FieldEventID] = newKey()
			generated++
		}
		records = append(records, raw)
	}

	body, err := record.EncodeSequence(records, shape)
	if err != nil {
		return Normalized{}, fmt.Errorf("re-encode: %w", err)
	}
	return Normalized{Body: body, Shape: shape, Records: len(records), KeysGenerated: generated}, nil
}
