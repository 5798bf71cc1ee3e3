package collection

import (
	"fmt"
	"math"
	"strings"

	"posekde/pkg/kernel"
)

// Strategy selects how kernel contributions are combined by EvaluationAt.
type Strategy int

const (
	// Sum adds every contribution.
	Sum Strategy = iota
	// Max keeps the largest contribution.
	Max
	// WeightedSum adds contributions scaled by each kernel's weight.
	WeightedSum
)

func (s Strategy) String() string {
	switch s {
	case Sum:
		return "sum"
	case Max:
		return "max"
	case WeightedSum:
		return "weighted_sum"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy parses the String form of a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sum":
		return Sum, nil
	case "max":
		return Max, nil
	case "weighted_sum", "weighted-sum", "weightedsum":
		return WeightedSum, nil
	}
	return 0, fmt.Errorf("%w: unknown evaluation strategy %q", kernel.ErrPreconditionViolation, s)
}

type accumulator struct {
	strategy Strategy
	value    float64
}

func (a *accumulator) add(v, weight float64) {
	switch a.strategy {
	case Max:
		a.value = math.Max(a.value, v)
	case WeightedSum:
		a.value += weight * v
	default:
		a.value += v
	}
}

func (c *Collection) checkQuery(q kernel.Kernel) error {
	if q.Group() != c.group {
		return &kernel.TypeMismatchError{Op: "evaluation", Want: c.group, Got: q.Group()}
	}
	return nil
}

// EvaluationAt returns the density of the collection at q, combining the
// contributions of every kernel with strategy s. Each kernel is evaluated
// with its own bandwidths. An empty collection evaluates to zero.
//
// Collections larger than the fast path threshold are evaluated through the
// spatial index and require valid statistics and index. Because every shape
// is exactly zero beyond its cut point, both paths return the same value.
func (c *Collection) EvaluationAt(q kernel.Kernel, s Strategy) (float64, error) {
	if len(c.kernels) == 0 {
		return 0, nil
	}
	if len(c.kernels) > c.fastPathThreshold {
		return c.EvaluateIndexed(q, s)
	}
	return c.EvaluateLinear(q, s)
}

// EvaluateLinear evaluates every kernel.
func (c *Collection) EvaluateLinear(q kernel.Kernel, s Strategy) (float64, error) {
	if len(c.kernels) == 0 {
		return 0, nil
	}
	if err := c.checkQuery(q); err != nil {
		return 0, err
	}
	acc := accumulator{strategy: s}
	for _, k := range c.kernels {
		v, err := k.Evaluate(q)
		if err != nil {
			return 0, err
		}
		acc.add(v, k.Weight)
	}
	return acc.value, nil
}

// EvaluateIndexed evaluates only the kernels whose location lies within the
// maximum cut point of q. It fails with ErrStatisticsUndefined or
// ErrIndexUndefined when the derived state is stale.
func (c *Collection) EvaluateIndexed(q kernel.Kernel, s Strategy) (float64, error) {
	if len(c.kernels) == 0 {
		return 0, nil
	}
	if err := c.checkQuery(q); err != nil {
		return 0, err
	}
	maxCut, err := c.MaxCutPoint()
	if err != nil {
		return 0, err
	}
	if !c.HasIndex() {
		return 0, ErrIndexUndefined
	}
	acc := accumulator{strategy: s}
	var evalErr error
	c.index.within(q.Loc, maxCut, func(idx int) {
		if evalErr != nil {
			return
		}
		k := c.kernels[idx]
		v, err := k.Evaluate(q)
		if err != nil {
			evalErr = err
			return
		}
		acc.add(v, k.Weight)
	})
	if evalErr != nil {
		return 0, evalErr
	}
	return acc.value, nil
}
