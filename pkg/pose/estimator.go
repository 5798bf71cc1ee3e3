// Package pose estimates the rigid transformation that aligns an object
// model with a scene, both given as kernel density estimates.
//
// Estimation runs several independent simulated-annealing chains. Each chain
// is a Metropolis-Hastings random walk over SE(3) that alternates
// independent proposals, built by matching a random object kernel with a
// random scene kernel, and local perturbations of the current pose. A
// candidate is scored by averaging the scene density over a sample of
// object points mapped through it. The best pose over all chains wins.
package pose

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"

	"github.com/google/uuid"

	"posekde/internal/logging"
	"posekde/pkg/collection"
	"posekde/pkg/kernel"
	"posekde/pkg/parallel"
)

// Result is the outcome of an estimation run.
type Result struct {
	// Pose maps object coordinates to scene coordinates. Its weight is
	// Score.
	Pose  kernel.Kernel
	Score float64

	RunID uuid.UUID
	Seed  uint64

	// Chains holds the best pose of every chain, by decreasing score.
	Chains []kernel.Kernel
}

// Estimator holds prepared object and scene evidence. Preparation copies
// the inputs, sets kernel widths, computes statistics and builds the scene
// index; the prepared evidence is never mutated afterwards, so Estimate may
// run concurrently with itself.
type Estimator struct {
	cfg    Config
	logger *slog.Logger

	object     *collection.Collection
	scene      *collection.Collection
	objectSize float64
	points     int
	noise      float64
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(e *Estimator) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEstimator validates cfg and prepares the evidence. object and scene are
// copied and left untouched.
func NewEstimator(object, scene *collection.Collection, cfg Config, opts ...Option) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Estimator{
		cfg:    cfg.withDefaults(),
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.load(object, scene); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Estimator) load(object, scene *collection.Collection) error {
	if object.Empty() || scene.Empty() {
		return fmt.Errorf("load evidence: %w", collection.ErrEmpty)
	}
	og, _ := object.Group()
	sg, _ := scene.Group()
	if og != sg {
		return fmt.Errorf("load evidence: %w", &kernel.TypeMismatchError{Op: "pose estimation", Want: og, Got: sg})
	}

	e.object = object.Clone()
	e.scene = scene.Clone()

	if e.cfg.Light && e.scene.Len() > e.cfg.LightLimit {
		light, err := e.lightScene()
		if err != nil {
			return err
		}
		e.logger.Debug("scene resampled", "from", e.scene.Len(), "to", light.Len())
		e.scene = light
	}

	m, err := e.object.Moments()
	if err != nil {
		return fmt.Errorf("object moments: %w", err)
	}
	e.objectSize = m.LocH
	if !(e.objectSize > 0) {
		return ErrDegenerateObject
	}

	locH := e.cfg.LocH
	if locH == 0 {
		locH = e.objectSize / 10
	}
	for _, c := range []*collection.Collection{e.object, e.scene} {
		if err := c.SetLocH(locH); err != nil {
			return err
		}
		if err := c.SetOriH(e.cfg.OriH); err != nil {
			return err
		}
		c.SetShape(e.cfg.Shape)
		c.ComputeStatistics()
	}
	e.scene.BuildIndex()

	e.points = e.cfg.Points
	if e.points == 0 {
		e.points = min(e.object.Len(), MaxDefaultPoints)
	}
	e.noise = WhiteNoisePower
	if e.cfg.Strategy == collection.WeightedSum {
		e.noise /= float64(e.scene.Len())
	}

	e.logger.Debug("evidence prepared",
		"object_points", e.object.Len(),
		"scene_points", e.scene.Len(),
		"object_size", e.objectSize,
		"loc_h", locH,
		"ori_h", e.cfg.OriH,
		"points", e.points)
	return nil
}

func (e *Estimator) lightScene() (*collection.Collection, error) {
	e.scene.ComputeStatistics()
	rng := rand.New(rand.NewPCG(e.cfg.Seed, uint64(e.scene.Len())))
	seq, err := e.scene.Sample(e.cfg.LightLimit, rng)
	if err != nil {
		return nil, fmt.Errorf("light scene: %w", err)
	}
	light := collection.New()
	for _, k := range seq {
		if err := light.Add(k); err != nil {
			return nil, err
		}
	}
	return light, nil
}

// ObjectSize returns the location standard deviation of the object evidence.
func (e *Estimator) ObjectSize() float64 { return e.objectSize }

// Points returns the number of object points scored per round.
func (e *Estimator) Points() int { return e.points }

// SceneSize returns the number of scene kernels used for matching.
func (e *Estimator) SceneSize() int { return e.scene.Len() }

// Scene returns a copy of the prepared scene evidence.
func (e *Estimator) Scene() *collection.Collection { return e.scene.Clone() }

// Estimate runs the configured number of chains and returns the best pose.
// Cancelling ctx stops every chain at its next annealing step.
func (e *Estimator) Estimate(ctx context.Context) (Result, error) {
	res := Result{RunID: uuid.New(), Seed: e.cfg.Seed}
	if res.Seed == 0 {
		res.Seed = rand.Uint64()
	}
	logger := e.logger.With("run_id", res.RunID.String())
	logger.Debug("starting pose estimation",
		"chains", e.cfg.Chains,
		"steps", 10*e.points,
		"seed", res.Seed,
		"runner", e.cfg.Runner.Mode.String())

	poses, err := parallel.Run(ctx, e.cfg.Chains, e.cfg.Runner, func(ctx context.Context, i int) (kernel.Kernel, error) {
		c := e.newChain(res.Seed, i)
		best, err := c.run(ctx)
		if err != nil {
			return kernel.Kernel{}, fmt.Errorf("chain %d: %w", i, err)
		}
		logger.Info("chain finished", "chain", i, "score", best.Weight)
		return best, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("pose estimation: %w", err)
	}

	slices.SortStableFunc(poses, func(a, b kernel.Kernel) int { return cmp.Compare(b.Weight, a.Weight) })
	res.Chains = poses
	res.Pose = poses[0]
	res.Score = res.Pose.Weight

	if e.cfg.AccurateScore {
		s, err := e.Score(res.Pose)
		if err != nil {
			return Result{}, err
		}
		res.Score = s
		res.Pose.Weight = s
	}
	logger.Info("pose estimation finished", "score", res.Score, "pose", res.Pose.String())
	return res, nil
}

// Score returns the matching score of pose computed on every object point:
// the sum of the scene density at each transformed object point.
func (e *Estimator) Score(pose kernel.Kernel) (float64, error) {
	total := 0.0
	for _, k := range e.object.All() {
		moved, err := k.TransformedWith(pose)
		if err != nil {
			return 0, err
		}
		v, err := e.scene.EvaluationAt(moved, e.cfg.Strategy)
		if err != nil {
			return 0, err
		}
		total += v
	}
	return total, nil
}

// AlignedObject returns a copy of the object evidence moved into the scene
// frame by pose.
func (e *Estimator) AlignedObject(pose kernel.Kernel) (*collection.Collection, error) {
	aligned := e.object.Clone()
	if err := aligned.TransformWith(pose); err != nil {
		return nil, err
	}
	return aligned, nil
}

// Estimate prepares an Estimator for object and scene and runs it once.
func Estimate(ctx context.Context, object, scene *collection.Collection, cfg Config, opts ...Option) (Result, error) {
	e, err := NewEstimator(object, scene, cfg, opts...)
	if err != nil {
		return Result{}, err
	}
	return e.Estimate(ctx)
}
