package collection

import (
	"fmt"
	"iter"
	"math/rand/v2"

	"posekde/pkg/kernel"
)

// systematic places n evenly spaced points on the cumulative weight axis,
// starting at a single random offset in [0, total/n), and selects the kernel
// whose weight interval contains each point. A kernel of weight w is picked
// either floor(n·w/total) or ceil(n·w/total) times.
type systematic struct {
	n      int
	stride float64
	offset float64
}

func newSystematic(n int, total float64, rng *rand.Rand) systematic {
	stride := total / float64(n)
	return systematic{n: n, stride: stride, offset: rng.Float64() * stride}
}

// each yields the selected indices in increasing order. The last kernel of
// positive weight absorbs picks lost to rounding in the cumulative sum.
func (s systematic) each(ks []kernel.Kernel, yield func(i int) bool) {
	last := -1
	for i := len(ks) - 1; i >= 0; i-- {
		if ks[i].Weight > 0 {
			last = i
			break
		}
	}
	picked := 0
	next := s.offset
	cum := 0.0
	for i := 0; i <= last && picked < s.n; i++ {
		cum += ks[i].Weight
		for picked < s.n && (next < cum || i == last) {
			if !yield(i) {
				return
			}
			picked++
			next = s.offset + float64(picked)*s.stride
		}
	}
}

// prepareSample checks the preconditions shared by the sampling entry points
// and returns the number of picks.
func (c *Collection) prepareSample(n int) (systematicN int, total float64, err error) {
	if n <= 0 || len(c.kernels) == 0 {
		return 0, 0, nil
	}
	total, err = c.TotalWeight()
	if err != nil {
		return 0, 0, err
	}
	if total <= 0 {
		return 0, 0, fmt.Errorf("%w: sampling from zero total weight", kernel.ErrNumericDegeneracy)
	}
	return min(n, len(c.kernels)), total, nil
}

// SampleIndices returns min(n, Len) kernel indices drawn by systematic
// resampling, with multiplicity, in increasing order. Statistics must be
// valid.
func (c *Collection) SampleIndices(n int, rng *rand.Rand) ([]int, error) {
	n, total, err := c.prepareSample(n)
	if err != nil || n == 0 {
		return nil, err
	}
	out := make([]int, 0, n)
	newSystematic(n, total, rng).each(c.kernels, func(i int) bool {
		out = append(out, i)
		return true
	})
	return out, nil
}

// Sample returns a lazy, restartable sequence of min(n, Len) kernels drawn by
// systematic resampling. The random offset is drawn once, so every iteration
// of the sequence yields the same kernels. Statistics must be valid, and the
// collection must not be mutated while the sequence is in use.
func (c *Collection) Sample(n int, rng *rand.Rand) (iter.Seq2[int, kernel.Kernel], error) {
	n, total, err := c.prepareSample(n)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return func(func(int, kernel.Kernel) bool) {}, nil
	}
	s := newSystematic(n, total, rng)
	return func(yield func(int, kernel.Kernel) bool) {
		s.each(c.kernels, func(i int) bool { return yield(i, c.kernels[i]) })
	}, nil
}

// SampleMutable is Sample yielding pointers for in-place modification. The
// total weight is captured and derived state is invalidated before the
// sequence is returned, and again whenever it is restarted. The same rules
// as Mutable apply to the yielded pointers.
func (c *Collection) SampleMutable(n int, rng *rand.Rand) (iter.Seq2[int, *kernel.Kernel], error) {
	n, total, err := c.prepareSample(n)
	if err != nil {
		return nil, err
	}
	c.mutate()
	if n == 0 {
		return func(func(int, *kernel.Kernel) bool) {}, nil
	}
	s := newSystematic(n, total, rng)
	return func(yield func(int, *kernel.Kernel) bool) {
		c.mutate()
		s.each(c.kernels, func(i int) bool {
			cont := yield(i, &c.kernels[i])
			c.mustBeIntact(i)
			return cont
		})
	}, nil
}

// RandomKernel returns one kernel drawn with probability proportional to its
// weight.
func (c *Collection) RandomKernel(rng *rand.Rand) (kernel.Kernel, error) {
	if len(c.kernels) == 0 {
		return kernel.Kernel{}, ErrEmpty
	}
	idx, err := c.SampleIndices(1, rng)
	if err != nil {
		return kernel.Kernel{}, err
	}
	return c.kernels[idx[0]], nil
}

// ResetWithSampleOf replaces the contents of c with n kernels resampled from
// src by systematic sampling, each perturbed by its own density and given a
// weight of 1/n. src statistics must be valid. n is capped at src.Len().
func (c *Collection) ResetWithSampleOf(src *Collection, n int, rng *rand.Rand) error {
	seq, err := src.Sample(n, rng)
	if err != nil {
		return err
	}
	var picks []kernel.Kernel
	for _, k := range seq {
		picks = append(picks, k)
	}
	c.Clear()
	for _, k := range picks {
		s := k.Sample(rng)
		s.Weight = 1 / float64(len(picks))
		if err := c.Add(s); err != nil {
			return err
		}
	}
	return nil
}
