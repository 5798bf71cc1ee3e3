package kernel

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the density engine. Callers should match with
// errors.Is; concrete errors returned by this module wrap one of these.
var (
	// ErrTypeMismatch is returned when an operation combines kernels (or a
	// kernel and a collection) of incompatible group types.
	ErrTypeMismatch = errors.New("kernel type mismatch")

	// ErrPreconditionViolation is returned when derived state (statistics,
	// spatial index) is read before it has been built, or when an argument
	// is outside its documented domain.
	ErrPreconditionViolation = errors.New("precondition violation")

	// ErrInvariantViolation signals an internal logic error. It is never
	// retried.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrNumericDegeneracy is returned for numerically undefined requests,
	// such as normalizing weights that sum to zero.
	ErrNumericDegeneracy = errors.New("numeric degeneracy")

	// ErrInvalidKernel is returned by Validate and the constructors when a
	// kernel violates its field invariants.
	ErrInvalidKernel = errors.New("invalid kernel")
)

// TypeMismatchError reports the operation and the two group types involved.
//
// It unwraps to ErrTypeMismatch.
type TypeMismatchError struct {
	Op   string
	Want Group
	Got  Group
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%s: kernel type mismatch: want %s, got %s", e.Op, e.Want, e.Got)
}

func (e *TypeMismatchError) Unwrap() error { return ErrTypeMismatch }

func mismatch(op string, want, got Group) error {
	return &TypeMismatchError{Op: op, Want: want, Got: got}
}
