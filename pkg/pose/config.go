package pose

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"posekde/pkg/collection"
	"posekde/pkg/kernel"
	"posekde/pkg/parallel"
)

const (
	// DefaultOriH is the orientation bandwidth, in radians.
	DefaultOriH = 0.2
	// DefaultChains is the number of independent annealing chains.
	DefaultChains = 8
	// MaxDefaultPoints caps the number of object points scored per round
	// when Config.Points is unset.
	MaxDefaultPoints = 1000
	// DefaultLightLimit is the scene size Light mode resamples down to.
	DefaultLightLimit = 10000
	// WhiteNoisePower is added to every point score so that a candidate
	// explaining no point still has a positive score.
	WhiteNoisePower = 1e-4
)

// Config parametrizes pose estimation. Zero numeric fields select the
// defaults documented on each field.
type Config struct {
	// LocH is the location bandwidth of every evidence kernel. Zero means
	// a tenth of the object size.
	LocH float64
	// OriH is the orientation bandwidth. Zero means DefaultOriH.
	OriH float64
	// Shape is the kernel profile of every evidence kernel.
	Shape kernel.Shape

	// Chains is the number of annealing chains. Zero means DefaultChains.
	Chains int
	// Points is the number of object points scored per round. Zero means
	// the object size, capped at MaxDefaultPoints.
	Points int

	// Strategy combines scene kernel contributions when scoring a point.
	Strategy collection.Strategy
	// DisableEarlyAbort scores every candidate on the full point budget.
	DisableEarlyAbort bool

	// Light resamples scenes larger than LightLimit down to LightLimit
	// kernels. Zero LightLimit means DefaultLightLimit.
	Light      bool
	LightLimit int

	// AccurateScore rescores the selected pose on every object point.
	AccurateScore bool

	// Seed seeds every chain's generator. Zero draws a random seed, which
	// is reported in Result.Seed.
	Seed uint64

	Runner parallel.Options

	// Reachability, when set, restricts candidate poses.
	Reachability Reachability
	// Visibility, when set, enables partial-view matching from Viewpoint,
	// given in the scene frame.
	Visibility Visibility
	Viewpoint  r3.Vec
}

// DefaultConfig returns the configuration used by the command line tool.
func DefaultConfig() Config {
	return Config{
		OriH:       DefaultOriH,
		Chains:     DefaultChains,
		Strategy:   collection.Max,
		LightLimit: DefaultLightLimit,
	}
}

// Validate checks Config for values no default can repair.
func (c Config) Validate() error {
	if c.LocH < 0 || c.OriH < 0 {
		return fmt.Errorf("%w: negative bandwidth (loc %g, ori %g)", kernel.ErrPreconditionViolation, c.LocH, c.OriH)
	}
	if c.Chains < 0 || c.Points < 0 || c.LightLimit < 0 {
		return fmt.Errorf("%w: negative count (chains %d, points %d, light limit %d)",
			kernel.ErrPreconditionViolation, c.Chains, c.Points, c.LightLimit)
	}
	switch c.Strategy {
	case collection.Sum, collection.Max, collection.WeightedSum:
	default:
		return fmt.Errorf("%w: unknown evaluation strategy %d", kernel.ErrPreconditionViolation, int(c.Strategy))
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.OriH == 0 {
		c.OriH = DefaultOriH
	}
	if c.Chains == 0 {
		c.Chains = DefaultChains
	}
	if c.LightLimit == 0 {
		c.LightLimit = DefaultLightLimit
	}
	return c
}
