package claims

import (
	"errors"
	"fmt"
)

// ErrInvalidRecord is matched by every InvalidRecordError.
var ErrInvalidRecord = errors.New("invalid record")

// Kind names the input stream a record came from.
type Kind string

const (
	KindPharmacy Kind = "pharmacy"
	KindClaim    Kind = "claim"
	KindRevert   Kind = "revert"
)

// InvalidRecordError reports a record that cannot be aggregated. Runs abort on
// it rather than dropping the record.
type InvalidRecordError struct {
	Kind   Kind
	ID     string // record id, empty when the id itself is missing
	Source string // file and position, set by the loader
	Field  string
	Value  string
	Reason string
}

func (e *InvalidRecordError) Error() string {
	msg := fmt.Sprintf("invalid %s", e.Kind)
	if e.ID != "" {
		msg += fmt.Sprintf(" %q", e.ID)
	}
	if e.Source != "" {
		msg += " at " + e.Source
	}
	if e.Field != "" {
		msg += fmt.Sprintf(": field %s", e.Field)
		if e.Value != "" {
			msg += fmt.Sprintf("=%q", e.Value)
		}
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidRecordError) Unwrap() error { return ErrInvalidRecord }
