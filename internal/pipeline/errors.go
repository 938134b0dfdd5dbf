package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a stage failure so callers can tell "no data" apart from a
// transient upstream fault and from a permanent rejection.
type Kind int

const (
	// KindTransport marks network/HTTP failures from the upstream API.
	KindTransport Kind = iota + 1
	// KindShape marks missing or aliased fields in upstream records.
	KindShape
	// KindValidation marks records rejected by local validation.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindShape:
		return "shape"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// StageError wraps a failure with the pipeline stage it occurred in and its
// classification.
type StageError struct {
	Stage string
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with stage and kind metadata.
func NewStageError(stage string, kind Kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// KindOf returns the classification of the first StageError in the chain, or
// zero when the error carries none.
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// ErrTooManyFailures aborts a run after the consecutive-error threshold is
// reached by range-level failures.
var ErrTooManyFailures = errors.New("pipeline: too many consecutive failures")
