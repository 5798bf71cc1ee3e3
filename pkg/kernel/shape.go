package kernel

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"
)

// Shape is the radially symmetric profile used by a kernel for both its
// location and orientation factors. Every shape peaks at 1 and is exactly 0
// beyond its cut point.
type Shape int

const (
	// Gaussian is exp(-d²/2h²), truncated at GaussianCutoff bandwidths.
	Gaussian Shape = iota
	// Triangle is max(0, 1-d/h).
	Triangle
	// Epanechnikov is max(0, 1-(d/h)²).
	Epanechnikov
)

// GaussianCutoff is the number of bandwidths after which the Gaussian
// profile is treated as zero.
const GaussianCutoff = 3.0

// FloatTol is the tolerance used for zero-bandwidth kernels and unit-norm
// checks on orientations.
const FloatTol = 1e-12

func (s Shape) String() string {
	switch s {
	case Gaussian:
		return "gaussian"
	case Triangle:
		return "triangle"
	case Epanechnikov:
		return "epanechnikov"
	}
	return fmt.Sprintf("shape(%d)", int(s))
}

// ParseShape parses the names produced by String.
func ParseShape(s string) (Shape, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gaussian":
		return Gaussian, nil
	case "triangle":
		return Triangle, nil
	case "epanechnikov":
		return Epanechnikov, nil
	}
	return 0, fmt.Errorf("unknown kernel shape %q", s)
}

// CutPoint returns the distance beyond which Eval is zero for bandwidth h.
func (s Shape) CutPoint(h float64) float64 {
	if h <= 0 {
		return FloatTol
	}
	if s == Gaussian {
		return GaussianCutoff * h
	}
	return h
}

// Eval returns the unnormalized profile value at distance d for bandwidth h.
// A zero bandwidth degenerates to the indicator of d == 0.
func (s Shape) Eval(d, h float64) float64 {
	if h <= 0 {
		if d <= FloatTol {
			return 1
		}
		return 0
	}
	if d > s.CutPoint(h) {
		return 0
	}
	u := d / h
	switch s {
	case Triangle:
		return math.Max(0, 1-u)
	case Epanechnikov:
		return math.Max(0, 1-u*u)
	default:
		return math.Exp(-0.5 * u * u)
	}
}

// sampleOffset draws a displacement in R3 whose density is proportional to
// the profile evaluated at its norm.
func (s Shape) sampleOffset(rng *rand.Rand, h float64) r3.Vec {
	if h <= 0 {
		return r3.Vec{}
	}
	cut := s.CutPoint(h)
	if s == Gaussian {
		n := distuv.Normal{Mu: 0, Sigma: h, Src: rng}
		for {
			v := r3.Vec{X: n.Rand(), Y: n.Rand(), Z: n.Rand()}
			if r3.Norm(v) <= cut {
				return v
			}
		}
	}
	u := distuv.Uniform{Min: -cut, Max: cut, Src: rng}
	for {
		v := r3.Vec{X: u.Rand(), Y: u.Rand(), Z: u.Rand()}
		d := r3.Norm(v)
		if d > cut {
			continue
		}
		if rng.Float64() < s.Eval(d, h) {
			return v
		}
	}
}

// sampleAngle draws a non-negative angle with density proportional to the
// profile, capped at π.
func (s Shape) sampleAngle(rng *rand.Rand, h float64) float64 {
	if h <= 0 {
		return 0
	}
	cut := s.CutPoint(h)
	var a float64
	if s == Gaussian {
		n := distuv.Normal{Mu: 0, Sigma: h, Src: rng}
		for {
			a = math.Abs(n.Rand())
			if a <= cut {
				break
			}
		}
	} else {
		u := distuv.Uniform{Min: 0, Max: cut, Src: rng}
		for {
			a = u.Rand()
			if rng.Float64() < s.Eval(a, h) {
				break
			}
		}
	}
	return math.Min(a, math.Pi)
}
