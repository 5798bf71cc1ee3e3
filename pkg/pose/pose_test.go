package pose

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"

	"posekde/pkg/collection"
	"posekde/pkg/kernel"
	"posekde/pkg/parallel"
)

// cornerObject samples n oriented points on three faces of an a×b×c box
// meeting at the origin. Distinct side lengths leave no rotational symmetry.
func cornerObject(t *testing.T, rng *rand.Rand, n int) *collection.Collection {
	t.Helper()
	const a, b, c = 0.4, 0.25, 0.15
	areas := []float64{a * b, a * c, b * c}
	total := areas[0] + areas[1] + areas[2]
	obj := collection.New()
	for range n {
		var loc, normal r3.Vec
		switch u := rng.Float64() * total; {
		case u < areas[0]:
			loc, normal = r3.Vec{X: a * rng.Float64(), Y: b * rng.Float64()}, r3.Vec{Z: -1}
		case u < areas[0]+areas[1]:
			loc, normal = r3.Vec{X: a * rng.Float64(), Z: c * rng.Float64()}, r3.Vec{Y: -1}
		default:
			loc, normal = r3.Vec{Y: b * rng.Float64(), Z: c * rng.Float64()}, r3.Vec{X: -1}
		}
		require.NoError(t, obj.Add(kernel.NewS2(loc, normal)))
	}
	return obj
}

// sceneOf moves every kernel of obj by truth and adds Gaussian location noise.
func sceneOf(t *testing.T, rng *rand.Rand, obj *collection.Collection, truth kernel.Kernel, sigma float64) *collection.Collection {
	t.Helper()
	noise := distuv.Normal{Mu: 0, Sigma: sigma, Src: rng}
	scene := collection.New()
	for _, k := range obj.All() {
		moved, err := k.TransformedWith(truth)
		require.NoError(t, err)
		moved.Loc = r3.Add(moved.Loc, r3.Vec{X: noise.Rand(), Y: noise.Rand(), Z: noise.Rand()})
		require.NoError(t, scene.Add(moved))
	}
	return scene
}

func testTruth() kernel.Kernel {
	return kernel.NewSE3(r3.Vec{X: 1, Y: -0.5, Z: 0.3}, kernel.AxisAngle(r3.Vec{X: 0.3, Y: 1, Z: 0.2}, 1.1))
}

func smallEstimator(t *testing.T, cfg Config) *Estimator {
	t.Helper()
	rng := rand.New(rand.NewPCG(1, 2))
	obj := cornerObject(t, rng, 80)
	scene := sceneOf(t, rng, obj, testTruth(), 0.001)
	e, err := NewEstimator(obj, scene, cfg)
	require.NoError(t, err)
	return e
}

func TestTemperature(t *testing.T) {
	assert.InDelta(t, 0.5, Temperature(0, 100), 1e-15)
	assert.InDelta(t, 0.05, Temperature(100, 100), 1e-15)
	assert.InDelta(t, 0.5*math.Sqrt(0.1), Temperature(50, 100), 1e-12)
	assert.Equal(t, 0.05, Temperature(250, 100))
	assert.Equal(t, 0.05, Temperature(3, 0))
	for i := 1; i < 200; i++ {
		assert.LessOrEqual(t, Temperature(i, 100), Temperature(i-1, 100))
	}
}

func TestConfigDefaultsAndValidation(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultOriH, cfg.OriH)
	assert.Equal(t, DefaultChains, cfg.Chains)
	assert.Equal(t, collection.Max, cfg.Strategy)
	require.NoError(t, cfg.Validate())

	filled := Config{}.withDefaults()
	assert.Equal(t, DefaultOriH, filled.OriH)
	assert.Equal(t, DefaultChains, filled.Chains)
	assert.Equal(t, DefaultLightLimit, filled.LightLimit)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"negative loc bandwidth", func(c *Config) { c.LocH = -1 }},
		{"negative ori bandwidth", func(c *Config) { c.OriH = -0.1 }},
		{"negative chains", func(c *Config) { c.Chains = -2 }},
		{"negative points", func(c *Config) { c.Points = -1 }},
		{"unknown strategy", func(c *Config) { c.Strategy = collection.Strategy(9) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), kernel.ErrPreconditionViolation)
		})
	}
}

func TestNewEstimatorPreparesEvidence(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	obj := cornerObject(t, rng, 120)
	scene := sceneOf(t, rng, obj, testTruth(), 0.001)

	e, err := NewEstimator(obj, scene, DefaultConfig())
	require.NoError(t, err)
	assert.Greater(t, e.ObjectSize(), 0.0)
	assert.Equal(t, 120, e.Points())
	assert.True(t, e.scene.HasIndex())
	assert.True(t, e.scene.HasStatistics())
	assert.True(t, e.object.HasStatistics())
	for _, k := range e.scene.All() {
		assert.InDelta(t, e.ObjectSize()/10, k.LocH, 1e-12)
		assert.Equal(t, DefaultOriH, k.OriH)
	}

	// Inputs are copied, not prepared in place.
	assert.False(t, scene.HasIndex())
	assert.Zero(t, obj.At(0).LocH)
}

func TestNewEstimatorRejectsBadEvidence(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	obj := cornerObject(t, rng, 20)

	_, err := NewEstimator(collection.New(), obj, DefaultConfig())
	assert.ErrorIs(t, err, collection.ErrEmpty)

	r3Scene := collection.New()
	require.NoError(t, r3Scene.Add(kernel.NewR3(r3.Vec{})))
	_, err = NewEstimator(obj, r3Scene, DefaultConfig())
	assert.ErrorIs(t, err, kernel.ErrTypeMismatch)

	point := collection.New()
	for range 5 {
		require.NoError(t, point.Add(kernel.NewS2(r3.Vec{X: 1}, r3.Vec{Z: 1})))
	}
	_, err = NewEstimator(point, obj, DefaultConfig())
	assert.ErrorIs(t, err, ErrDegenerateObject)
	assert.ErrorIs(t, err, kernel.ErrNumericDegeneracy)

	cfg := DefaultConfig()
	cfg.Chains = -1
	_, err = NewEstimator(obj, obj, cfg)
	assert.ErrorIs(t, err, kernel.ErrPreconditionViolation)
}

func TestLightScene(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	obj := cornerObject(t, rng, 30)
	scene := cornerObject(t, rng, 50)

	cfg := DefaultConfig()
	cfg.Light = true
	cfg.LightLimit = 20
	e, err := NewEstimator(obj, scene, cfg)
	require.NoError(t, err)
	assert.Equal(t, 20, e.SceneSize())
	assert.Equal(t, 50, scene.Len())

	cfg.Light = false
	e, err = NewEstimator(obj, scene, cfg)
	require.NoError(t, err)
	assert.Equal(t, 50, e.SceneSize())

	prepared := e.Scene()
	assert.Equal(t, 50, prepared.Len())
	assert.InDelta(t, e.ObjectSize()/10, prepared.At(0).LocH, 1e-12)
	assert.Zero(t, scene.At(0).LocH)
}

func TestStepRequiresSample(t *testing.T) {
	e := smallEstimator(t, DefaultConfig())
	e.points = 0
	c := e.newChain(1, 0)
	cur := state{pose: kernel.New(kernel.SE3)}
	_, err := c.step(&cur, 1, true)
	assert.ErrorIs(t, err, ErrEmptySample)
	assert.ErrorIs(t, err, kernel.ErrPreconditionViolation)
	assert.ErrorIs(t, ErrForbiddenState, kernel.ErrInvariantViolation)
}

func TestStepAlwaysDecides(t *testing.T) {
	for _, points := range []int{1, 2, 3, 17} {
		cfg := DefaultConfig()
		cfg.Points = points
		e := smallEstimator(t, cfg)
		c := e.newChain(9, 0)
		cur := state{pose: kernel.New(kernel.SE3)}
		accepted, err := c.step(&cur, 1, true)
		require.NoError(t, err)
		require.True(t, accepted, "warmup must accept")
		require.Greater(t, cur.weight, 0.0)

		for i := range 200 {
			cur.pose.LocH, cur.pose.OriH = e.ObjectSize()/10, 0.1
			_, err := c.step(&cur, Temperature(i, 40), false)
			require.NoError(t, err, "points=%d step=%d", points, i)
		}
	}
}

func TestEarlyAbortNeverAcceptsWhatFullScoringRejects(t *testing.T) {
	e := smallEstimator(t, DefaultConfig())
	fast := e.newChain(11, 0)
	full := e.newChain(11, 0)
	full.earlyAbort = false

	base := state{pose: kernel.New(kernel.SE3)}
	warm := base
	_, err := fast.step(&base, 1, true)
	require.NoError(t, err)
	_, err = full.step(&warm, 1, true)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(base, warm, cmp.AllowUnexported(state{}, kernel.Kernel{})))

	base.pose.LocH, base.pose.OriH = e.ObjectSize()/10, 0.1
	accepted := 0
	for i := range 400 {
		a, b := base, base
		okFast, err := fast.step(&a, Temperature(i, 80), false)
		require.NoError(t, err)
		okFull, err := full.step(&b, Temperature(i, 80), false)
		require.NoError(t, err)
		if okFast {
			accepted++
			require.True(t, okFull, "step %d accepted only with early abort", i)
			require.Equal(t, b.weight, a.weight)
			require.Empty(t, cmp.Diff(a.pose, b.pose, cmp.AllowUnexported(kernel.Kernel{})))
		}
		if !okFull {
			require.False(t, okFast)
		}
	}
	assert.Greater(t, accepted, 0)
}

func TestReachabilityConstrainsResult(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Chains = 2
	cfg.Points = 20
	cfg.Seed = 5
	reachable := ReachabilityFunc(func(p kernel.Kernel) bool { return p.Loc.Z > 0 })
	cfg.Reachability = reachable
	e := smallEstimator(t, cfg)

	res, err := e.Estimate(context.Background())
	require.NoError(t, err)
	for _, p := range res.Chains {
		assert.True(t, reachable(p), "pose %v", p)
	}

	cfg.Reachability = ReachabilityFunc(func(kernel.Kernel) bool { return false })
	e = smallEstimator(t, cfg)
	_, err = e.Estimate(context.Background())
	assert.ErrorIs(t, err, ErrNoAdmissiblePose)
}

func TestPartialView(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Chains = 2
	cfg.Points = 20
	cfg.Seed = 6
	cfg.Visibility = FacingViewpoint{}
	cfg.Viewpoint = r3.Vec{X: -3, Y: -3, Z: -3}
	e := smallEstimator(t, cfg)
	res, err := e.Estimate(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Chains, 2)

	cfg.Visibility = VisibilityFunc(func(kernel.Kernel, r3.Vec) bool { return false })
	e = smallEstimator(t, cfg)
	_, err = e.Estimate(context.Background())
	assert.ErrorIs(t, err, ErrNoAdmissiblePose)
}

func TestFacingViewpoint(t *testing.T) {
	v := FacingViewpoint{}
	up := kernel.NewS2(r3.Vec{}, r3.Vec{Z: 1})
	assert.True(t, v.Visible(up, r3.Vec{Z: 2}))
	assert.False(t, v.Visible(up, r3.Vec{Z: -2}))
	assert.True(t, v.Visible(kernel.NewS2P(r3.Vec{}, r3.Vec{Z: 1}), r3.Vec{Z: -2}))
	assert.True(t, v.Visible(kernel.NewR3(r3.Vec{}), r3.Vec{Z: -2}))
}

func TestViewpointIn(t *testing.T) {
	pose := kernel.NewSE3(r3.Vec{X: 1}, kernel.AxisAngle(r3.Vec{Z: 1}, math.Pi/2))
	vp, err := viewpointIn(pose, r3.Vec{X: 1, Y: 2})
	require.NoError(t, err)
	assert.InDelta(t, 2, vp.X, 1e-12)
	assert.InDelta(t, 0, vp.Y, 1e-12)
}

func TestEstimateIsDeterministicForSeed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Chains = 3
	cfg.Points = 15
	cfg.Seed = 77

	cfg.Runner = parallel.Options{Mode: parallel.Serial}
	serial, err := smallEstimator(t, cfg).Estimate(context.Background())
	require.NoError(t, err)

	cfg.Runner = parallel.Options{Mode: parallel.Goroutines, Workers: 3}
	concurrent, err := smallEstimator(t, cfg).Estimate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(77), serial.Seed)
	assert.NotEqual(t, serial.RunID, concurrent.RunID)
	assert.Empty(t, cmp.Diff(serial.Pose, concurrent.Pose, cmp.AllowUnexported(kernel.Kernel{})))
	assert.Equal(t, serial.Score, concurrent.Score)
	require.Len(t, serial.Chains, 3)
	for i := 1; i < len(serial.Chains); i++ {
		assert.GreaterOrEqual(t, serial.Chains[i-1].Weight, serial.Chains[i].Weight)
	}
	assert.Equal(t, serial.Score, serial.Pose.Weight)
}

func TestEstimateHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := smallEstimator(t, DefaultConfig()).Estimate(ctx)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestScoreAndAlignedObject(t *testing.T) {
	e := smallEstimator(t, DefaultConfig())
	truth := testTruth()

	good, err := e.Score(truth)
	require.NoError(t, err)
	bad, err := e.Score(kernel.New(kernel.SE3))
	require.NoError(t, err)
	assert.Greater(t, good, bad)
	assert.Greater(t, good, 0.5*float64(e.object.Len()))

	aligned, err := e.AlignedObject(truth)
	require.NoError(t, err)
	require.Equal(t, e.object.Len(), aligned.Len())
	for i, k := range aligned.All() {
		want, err := e.object.At(i).TransformedWith(truth)
		require.NoError(t, err)
		assert.InDelta(t, 0, r3.Norm(r3.Sub(want.Loc, k.Loc)), 1e-12)
	}
	assert.False(t, e.object.At(0).Loc == aligned.At(0).Loc)
}

func TestAccurateScore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Chains = 2
	cfg.Points = 15
	cfg.Seed = 3
	cfg.AccurateScore = true
	e := smallEstimator(t, cfg)
	res, err := e.Estimate(context.Background())
	require.NoError(t, err)
	want, err := e.Score(res.Pose)
	require.NoError(t, err)
	assert.InDelta(t, want, res.Score, 1e-12)
	assert.Equal(t, res.Score, res.Pose.Weight)
}

func TestEstimateRecoversKnownTransform(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping pose recovery in short mode")
	}
	const (
		runs     = 20
		required = 18
	)
	truth := testTruth()
	succeeded := 0
	for run := range runs {
		rng := rand.New(rand.NewPCG(uint64(100+run), 1))
		obj := cornerObject(t, rng, 250)
		scene := sceneOf(t, rng, obj, truth, 0.002)

		cfg := DefaultConfig()
		cfg.Points = 100
		cfg.Seed = uint64(run + 1)
		e, err := NewEstimator(obj, scene, cfg)
		require.NoError(t, err)
		res, err := e.Estimate(context.Background())
		require.NoError(t, err)

		locErr, oriErr, err := res.Pose.DistanceTo(truth)
		require.NoError(t, err)
		t.Logf("run %d: translation error %.4f (object size %.4f), rotation error %.2f°",
			run, locErr, e.ObjectSize(), oriErr*180/math.Pi)
		if locErr < 0.05*e.ObjectSize() && oriErr < 10*math.Pi/180 {
			succeeded++
		}
	}
	assert.GreaterOrEqual(t, succeeded, required, "runs within 5 percent of object size and 10 degrees")
}
