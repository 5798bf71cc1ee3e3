package collection

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"posekde/pkg/kernel"
)

type statistics struct {
	generation  uint64
	totalWeight float64
	maxCutPoint float64
}

func (c *Collection) validStats() (*statistics, error) {
	if c.stats == nil || c.stats.generation != c.generation {
		return nil, ErrStatisticsUndefined
	}
	return c.stats, nil
}

// HasStatistics reports whether TotalWeight and MaxCutPoint are readable.
func (c *Collection) HasStatistics() bool {
	_, err := c.validStats()
	return err == nil
}

// ComputeStatistics caches the total weight and the largest kernel cut
// point. An empty collection has both equal to zero.
func (c *Collection) ComputeStatistics() {
	weights := make([]float64, len(c.kernels))
	maxCut := 0.0
	for i, k := range c.kernels {
		weights[i] = k.Weight
		maxCut = math.Max(maxCut, k.CutPoint())
	}
	total := 0.0
	if len(weights) > 0 {
		total = floats.Sum(weights)
	}
	c.stats = &statistics{generation: c.generation, totalWeight: total, maxCutPoint: maxCut}
}

// TotalWeight returns the cached sum of kernel weights.
func (c *Collection) TotalWeight() (float64, error) {
	s, err := c.validStats()
	if err != nil {
		return 0, err
	}
	return s.totalWeight, nil
}

// MaxCutPoint returns the cached largest location cut point.
func (c *Collection) MaxCutPoint() (float64, error) {
	s, err := c.validStats()
	if err != nil {
		return 0, err
	}
	return s.maxCutPoint, nil
}

// NormalizeWeights scales weights so that they sum to one and leaves the
// statistics valid with a total weight of exactly one. The spatial index is
// invalidated. A collection whose weights sum to zero is left unchanged.
func (c *Collection) NormalizeWeights() {
	if len(c.kernels) == 0 {
		c.mutate()
		c.stats = &statistics{generation: c.generation}
		return
	}
	if !c.HasStatistics() {
		c.ComputeStatistics()
	}
	total, maxCut := c.stats.totalWeight, c.stats.maxCutPoint
	if total <= 0 {
		return
	}
	for _, k := range c.Mutable() {
		k.Weight /= total
	}
	c.stats = &statistics{generation: c.generation, totalWeight: 1, maxCutPoint: maxCut}
}

// UniformizeWeights sets every weight to 1/Len. Statistics are left valid
// with a total weight of one.
func (c *Collection) UniformizeWeights() {
	if len(c.kernels) == 0 {
		c.mutate()
		c.stats = &statistics{generation: c.generation}
		return
	}
	w := 1 / float64(len(c.kernels))
	maxCut := 0.0
	for _, k := range c.Mutable() {
		k.Weight = w
		maxCut = math.Max(maxCut, k.CutPoint())
	}
	c.stats = &statistics{generation: c.generation, totalWeight: 1, maxCutPoint: maxCut}
}

// Heaviest returns copies of the n kernels with the largest weights, in
// decreasing weight order. Ties keep insertion order.
func (c *Collection) Heaviest(n int) []kernel.Kernel {
	sorted := c.Kernels()
	slices.SortStableFunc(sorted, func(a, b kernel.Kernel) int {
		switch {
		case a.Weight > b.Weight:
			return -1
		case a.Weight < b.Weight:
			return 1
		}
		return 0
	})
	if n < len(sorted) {
		sorted = sorted[:max(n, 0)]
	}
	return sorted
}

// Mean returns the weighted mean kernel. Its weight is the average weight of
// the collection and its bandwidths are zero.
func (c *Collection) Mean() (kernel.Kernel, error) {
	if len(c.kernels) == 0 {
		return kernel.Kernel{}, ErrEmpty
	}
	m := kernel.New(c.group)
	m.Shape = c.kernels[0].Shape
	w := 0.0
	for _, k := range c.kernels {
		if k.Weight == 0 {
			continue
		}
		next, err := m.LinearInterpolation(k, k.Weight/(w+k.Weight))
		if err != nil {
			return kernel.Kernel{}, err
		}
		m = next
		w += k.Weight
	}
	if w == 0 {
		return kernel.Kernel{}, fmt.Errorf("%w: mean of zero total weight", kernel.ErrNumericDegeneracy)
	}
	m.Weight = w / float64(len(c.kernels))
	return m, nil
}

// Deviation returns center with its bandwidths replaced by the weighted
// root-mean-square location and orientation distances of the collection
// from center.
func (c *Collection) Deviation(center kernel.Kernel) (kernel.Kernel, error) {
	if len(c.kernels) == 0 {
		return kernel.Kernel{}, ErrEmpty
	}
	if center.Group() != c.group {
		return kernel.Kernel{}, &kernel.TypeMismatchError{Op: "deviation", Want: c.group, Got: center.Group()}
	}
	d := center
	d.LocH, d.OriH = 0, 0
	w := 0.0
	for _, k := range c.kernels {
		if k.Weight == 0 {
			continue
		}
		if err := d.UpdateWidth(k, k.Weight/(w+k.Weight)); err != nil {
			return kernel.Kernel{}, err
		}
		w += k.Weight
	}
	if w == 0 {
		return kernel.Kernel{}, fmt.Errorf("%w: deviation of zero total weight", kernel.ErrNumericDegeneracy)
	}
	return d, nil
}

// Moments returns the mean kernel with its bandwidths set to the standard
// deviation of the collection around it.
func (c *Collection) Moments() (kernel.Kernel, error) {
	m, err := c.Mean()
	if err != nil {
		return kernel.Kernel{}, err
	}
	return c.Deviation(m)
}
