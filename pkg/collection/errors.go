package collection

import (
	"fmt"

	"posekde/pkg/kernel"
)

var (
	// ErrStatisticsUndefined is returned when the total weight or the max cut
	// point is read before ComputeStatistics, or after a mutation.
	ErrStatisticsUndefined = fmt.Errorf("%w: kernel statistics undefined, call ComputeStatistics first", kernel.ErrPreconditionViolation)

	// ErrIndexUndefined is returned when a radius query is attempted before
	// BuildIndex, or after a mutation.
	ErrIndexUndefined = fmt.Errorf("%w: spatial index undefined, call BuildIndex first", kernel.ErrPreconditionViolation)

	// ErrEmpty is returned by operations that need at least one kernel.
	ErrEmpty = fmt.Errorf("%w: empty collection", kernel.ErrPreconditionViolation)

	// ErrUndefinedType is returned when the kernel type of an empty
	// collection is requested.
	ErrUndefinedType = fmt.Errorf("%w: collection kernel type undefined", kernel.ErrTypeMismatch)
)
