package pose

import (
	"fmt"

	"posekde/pkg/kernel"
)

var (
	// ErrForbiddenState is returned when a scoring round ends without a
	// decision. It indicates a bug and is never retried.
	ErrForbiddenState = fmt.Errorf("%w: reached forbidden state", kernel.ErrInvariantViolation)

	// ErrEmptySample is returned when a scoring round draws no object point.
	ErrEmptySample = fmt.Errorf("%w: empty scoring sample", kernel.ErrPreconditionViolation)

	// ErrNoAdmissiblePose is returned when the warmup round cannot find a
	// candidate that is reachable and sees at least one object point.
	ErrNoAdmissiblePose = fmt.Errorf("%w: no admissible initial pose", kernel.ErrPreconditionViolation)

	// ErrDegenerateObject is returned when the object evidence has no
	// spatial extent.
	ErrDegenerateObject = fmt.Errorf("%w: object evidence has zero size", kernel.ErrNumericDegeneracy)
)
