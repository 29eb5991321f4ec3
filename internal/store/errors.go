package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a named entity does not exist in the project.
var ErrNotFound = errors.New("entity not found")

// ErrNoProject is returned when an operation runs before a project is loaded.
var ErrNoProject = errors.New("no project loaded")

// ContradictionError signals an attempted mutation that conflicts with
// established state. It is surfaced to the operator and never auto-resolved.
type ContradictionError struct {
	Subject  string
	Existing string
	Proposed string
}

func (e *ContradictionError) Error() string {
	return fmt.Sprintf("contradiction on %q: established %q, proposed %q", e.Subject, e.Existing, e.Proposed)
}

// SequenceError signals a chapter index ordering violation. It indicates
// caller misuse and is not retryable.
type SequenceError struct {
	Index int
	Want  int
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("chapter index %d out of sequence, next contiguous index is %d", e.Index, e.Want)
}

// TransitionError signals a lifecycle state change that would move backwards,
// such as reopening a resolved plot thread or skipping a workflow phase.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s cannot transition from %s to %s", e.Entity, e.From, e.To)
}

// IsContradiction reports whether err is a ContradictionError.
func IsContradiction(err error) bool {
	var ce *ContradictionError
	return errors.As(err, &ce)
}

// IsSequence reports whether err is a SequenceError.
func IsSequence(err error) bool {
	var se *SequenceError
	return errors.As(err, &se)
}
