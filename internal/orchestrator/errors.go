package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when an operation does not apply to the
	// run's current status, such as resuming a run that is not suspended.
	ErrInvalidState = errors.New("invalid run state")
	// ErrRunNotFound is returned for run ids with no live run or checkpoint.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunActive is returned when a run is already being driven.
	ErrRunActive = errors.New("run already active")
)

// StructuralError aborts a run. It wraps the underlying cause, which is one
// of an unknown worker id, a checkpoint or event store failure, or a
// classifier panic.
type StructuralError struct {
	Op    string
	RunID string
	Err   error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("run %s: %s: %v", e.RunID, e.Op, e.Err)
}

func (e *StructuralError) Unwrap() error { return e.Err }

// IsStructural reports whether err aborted a run.
func IsStructural(err error) bool {
	var se *StructuralError
	return errors.As(err, &se)
}
