package pose

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"

	"posekde/pkg/kernel"
)

const (
	initialTemperature = 0.5
	finalTemperature   = 0.05

	// independentRate is the probability of an independent proposal after
	// warmup.
	independentRate = 0.75
	// abortRatio scales the acceptance threshold below which a partially
	// scored candidate is rejected.
	abortRatio = 0.6

	maxWarmupAttempts = 1000
)

// Temperature returns the annealing temperature of step i for a schedule of
// length f: max(T0·(TF/T0)^(i/f), TF) with T0 = 0.5 and TF = 0.05.
func Temperature(i, f int) float64 {
	if f <= 0 {
		return finalTemperature
	}
	t := initialTemperature * math.Pow(finalTemperature/initialTemperature, float64(i)/float64(f))
	return math.Max(t, finalTemperature)
}

// chain is one simulated-annealing random walk. It owns its generator and
// only reads the estimator's evidence.
type chain struct {
	e          *Estimator
	rng        *rand.Rand
	earlyAbort bool
}

// state is the current pose of a chain and its score.
type state struct {
	pose   kernel.Kernel
	weight float64
}

func (e *Estimator) newChain(seed uint64, index int) *chain {
	return &chain{
		e:          e,
		rng:        rand.New(rand.NewPCG(seed, uint64(index))),
		earlyAbort: !e.cfg.DisableEarlyAbort,
	}
}

// run performs the warmup round and the annealing schedule, and returns the
// best pose visited with its score as weight.
func (c *chain) run(ctx context.Context) (kernel.Kernel, error) {
	cur := state{pose: kernel.New(kernel.SE3)}
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return kernel.Kernel{}, err
		}
		accepted, err := c.step(&cur, 1, true)
		if err != nil {
			return kernel.Kernel{}, err
		}
		if accepted {
			break
		}
		if attempt == maxWarmupAttempts {
			return kernel.Kernel{}, ErrNoAdmissiblePose
		}
	}

	nSteps := 10 * c.e.points
	e := float64(nSteps - 1)
	beginLocH, endLocH := c.e.objectSize/10, c.e.objectSize/40
	const beginOriH, endOriH = 0.1, 0.02

	best := cur.pose
	bestWeight := 0.0
	for i := range nSteps {
		if err := ctx.Err(); err != nil {
			return kernel.Kernel{}, err
		}
		f := 0.0
		if e > 0 {
			f = float64(i) / e
		}
		cur.pose.LocH = (1-f)*beginLocH + f*endLocH
		cur.pose.OriH = (1-f)*beginOriH + f*endOriH

		if _, err := c.step(&cur, Temperature(i, nSteps/5), false); err != nil {
			return kernel.Kernel{}, fmt.Errorf("step %d: %w", i, err)
		}
		if cur.weight > bestWeight {
			best, bestWeight = cur.pose, cur.weight
		}
	}
	best.Weight = bestWeight
	return best, nil
}

// propose returns a candidate pose and whether it was drawn independently of
// the current one. sample holds the shuffled object indices of the round.
func (c *chain) propose(cur state, sample []int, firstRun bool) (kernel.Kernel, bool, error) {
	if firstRun || c.rng.Float64() < independentRate {
		k1 := c.e.object.At(sample[0]).SE3Proj(c.rng)
		k2, err := c.e.scene.RandomKernel(c.rng)
		if err != nil {
			return kernel.Kernel{}, false, err
		}
		next, err := k2.SE3Proj(c.rng).TransformationFrom(k1)
		if err != nil {
			return kernel.Kernel{}, false, err
		}
		return next, true, nil
	}
	return cur.pose.Sample(c.rng), false, nil
}

// visible keeps the sampled object points seen from the viewpoint once the
// object is placed at pose.
func (c *chain) visible(pose kernel.Kernel, sample []int) ([]int, error) {
	vp, err := viewpointIn(pose, c.e.cfg.Viewpoint)
	if err != nil {
		return nil, err
	}
	var out []int
	for _, i := range sample {
		if c.e.cfg.Visibility.Visible(c.e.object.At(i), vp) {
			out = append(out, i)
		}
	}
	return out, nil
}

// step runs one Metropolis-Hastings round at the given temperature and
// reports whether the candidate was accepted, in which case cur holds it.
//
// The candidate is scored on a growing prefix of the sampled object points.
// Once the prefix holds more than sqrt(len) points, the acceptance ratio is
// checked after every point and the candidate rejected as soon as it falls
// below abortRatio times the threshold. The last point always decides. The
// warmup round never aborts and always accepts.
func (c *chain) step(cur *state, temperature float64, firstRun bool) (bool, error) {
	sample, err := c.e.object.SampleIndices(c.e.points, c.rng)
	if err != nil {
		return false, err
	}
	if len(sample) == 0 {
		return false, ErrEmptySample
	}
	c.rng.Shuffle(len(sample), func(i, j int) { sample[i], sample[j] = sample[j], sample[i] })

	next, independent, err := c.propose(*cur, sample, firstRun)
	if err != nil {
		return false, err
	}
	if r := c.e.cfg.Reachability; r != nil && !r.Reachable(next) {
		return false, nil
	}
	if c.e.cfg.Visibility != nil {
		if sample, err = c.visible(next, sample); err != nil {
			return false, err
		}
		if len(sample) == 0 {
			return false, nil
		}
	}

	threshold := c.rng.Float64()
	last := len(sample) - 1
	warm := math.Sqrt(float64(len(sample)))
	sum := 0.0
	for pi, oi := range sample {
		test, err := c.e.object.At(oi).TransformedWith(next)
		if err != nil {
			return false, err
		}
		v, err := c.e.scene.EvaluationAt(test, c.e.cfg.Strategy)
		if err != nil {
			return false, err
		}
		sum += v + c.e.noise

		if pi != last && (!c.earlyAbort || float64(pi) < warm) {
			continue
		}
		nextWeight := sum / float64(pi+1)

		if firstRun {
			if pi == last {
				*cur = state{pose: next, weight: nextWeight}
				return true, nil
			}
			continue
		}

		dec := math.Pow(nextWeight/cur.weight, 1/temperature)
		if independent {
			dec *= cur.weight / nextWeight
		}
		if dec < abortRatio*threshold {
			return false, nil
		}
		if pi == last {
			if dec > threshold {
				*cur = state{pose: next, weight: nextWeight}
				return true, nil
			}
			return false, nil
		}
	}
	return false, ErrForbiddenState
}

// viewpointIn expresses a scene-frame viewpoint in the object frame implied
// by pose.
func viewpointIn(pose kernel.Kernel, viewpoint r3.Vec) (r3.Vec, error) {
	vp, err := kernel.NewR3(viewpoint).ProjectedOn(pose)
	if err != nil {
		return r3.Vec{}, err
	}
	return vp.Loc, nil
}
