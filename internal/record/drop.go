package record

// DropReason says why a record produced no Row.
type DropReason string

const (
	ReasonMissingKey       DropReason = "missing_key"
	ReasonMissingTimestamp DropReason = "missing_timestamp"
	ReasonBadTimestamp     DropReason = "bad_timestamp"
	ReasonNotObject        DropReason = "not_object"
	ReasonDuplicateInUnit  DropReason = "duplicate_in_unit"
)

// DropError is returned by Build when a record must be dropped.
type DropError struct {
	Reason DropReason
	Detail string
}

func (e *DropError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Detail
}
