package kernel

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// orientationDistance returns the group-appropriate angular distance, or -1
// for location-only kernels.
func orientationDistance(a, b Kernel) float64 {
	switch a.group {
	case S2:
		return s2Distance(a.Dir(), b.Dir())
	case S2P:
		return s2pDistance(a.Dir(), b.Dir())
	case SE3:
		return so3Distance(a.Ori, b.Ori)
	}
	return -1
}

// Evaluate returns the unnormalized density contribution of the kernel
// centered at k, with k's bandwidths, at other's location and orientation.
func (k Kernel) Evaluate(other Kernel) (float64, error) {
	if k.group != other.group {
		return 0, mismatch("evaluate", k.group, other.group)
	}
	v := k.Shape.Eval(r3.Norm(r3.Sub(k.Loc, other.Loc)), k.LocH)
	if v == 0 || !k.group.HasOrientation() {
		return v, nil
	}
	return v * k.Shape.Eval(orientationDistance(k, other), k.OriH), nil
}

// DistanceTo returns the Euclidean location distance and the geodesic
// orientation distance to other. The orientation distance is -1 for R3.
func (k Kernel) DistanceTo(other Kernel) (loc, ori float64, err error) {
	if k.group != other.group {
		return 0, 0, mismatch("distance", k.group, other.group)
	}
	return r3.Norm(r3.Sub(k.Loc, other.Loc)), orientationDistance(k, other), nil
}

// Sample draws one kernel from the density implied by k. All fields other
// than location and orientation are copied.
func (k Kernel) Sample(rng *rand.Rand) Kernel {
	s := k
	s.Loc = r3.Add(k.Loc, k.Shape.sampleOffset(rng, k.LocH))
	if !k.group.HasOrientation() || k.OriH <= 0 {
		return s
	}
	angle := k.Shape.sampleAngle(rng, k.OriH)
	switch k.group {
	case SE3:
		s.Ori = Normalize(quat.Mul(k.Ori, AxisAngle(RandomDirection(rng), angle)))
	default:
		dir := k.Dir()
		var axis r3.Vec
		for {
			axis = r3.Cross(dir, RandomDirection(rng))
			if r3.Norm(axis) > 1e-6 {
				break
			}
		}
		s.Ori = Normalize(quat.Mul(AxisAngle(axis, angle), k.Ori))
	}
	return s
}

// SE3Proj converts k to an SE3 kernel. R3 kernels receive a uniformly random
// orientation, S2/S2P kernels a uniformly random twist about their direction;
// both are approximations, since neither group carries that information.
func (k Kernel) SE3Proj(rng *rand.Rand) Kernel {
	p := k
	p.group = SE3
	switch k.group {
	case R3:
		p.Ori = RandomOrientation(rng)
	case S2, S2P:
		p.Ori = Normalize(quat.Mul(k.Ori, AxisAngle(zAxis, 2*math.Pi*rng.Float64())))
	}
	return p
}

// SE3Sample is Sample followed by SE3Proj.
func (k Kernel) SE3Sample(rng *rand.Rand) Kernel {
	return k.Sample(rng).SE3Proj(rng)
}

// LinearInterpolation returns (1-t)·k + t·other. Locations are blended
// linearly. Orientations are blended component-wise after flipping other's
// sign when the two point to opposite hemispheres, then renormalized; this
// approximates slerp.
func (k Kernel) LinearInterpolation(other Kernel, t float64) (Kernel, error) {
	if k.group != other.group {
		return Kernel{}, mismatch("interpolate", k.group, other.group)
	}
	if t < 0 || t > 1 || math.IsNaN(t) {
		return Kernel{}, fmt.Errorf("%w: interpolation factor %g outside [0, 1]", ErrPreconditionViolation, t)
	}
	i := k
	i.Descriptor = nil
	i.Loc = r3.Add(r3.Scale(1-t, k.Loc), r3.Scale(t, other.Loc))
	switch k.group {
	case SE3:
		q := other.Ori
		if dot4(k.Ori, q) < 0 {
			q = quat.Scale(-1, q)
		}
		i.Ori = Normalize(quat.Add(quat.Scale(1-t, k.Ori), quat.Scale(t, q)))
	case S2, S2P:
		a, b := k.Dir(), other.Dir()
		if k.group == S2P && r3.Dot(a, b) < 0 {
			b = r3.Scale(-1, b)
		}
		d := r3.Add(r3.Scale(1-t, a), r3.Scale(t, b))
		if r3.Norm(d) > FloatTol {
			i.SetDir(d)
		}
	}
	return i, nil
}

// UpdateWidth folds other into a running estimate of k's bandwidths, with
// mixing factor t: h ← sqrt((1-t)·h² + t·d²).
func (k *Kernel) UpdateWidth(other Kernel, t float64) error {
	loc, ori, err := k.DistanceTo(other)
	if err != nil {
		return err
	}
	if t < 0 || t > 1 || math.IsNaN(t) {
		return fmt.Errorf("%w: width update factor %g outside [0, 1]", ErrPreconditionViolation, t)
	}
	k.LocH = math.Sqrt((1-t)*k.LocH*k.LocH + t*loc*loc)
	if k.group.HasOrientation() {
		k.OriH = math.Sqrt((1-t)*k.OriH*k.OriH + t*ori*ori)
	}
	return nil
}

// TransformedWith applies the rigid transform t (an SE3 kernel) to k:
// location ← t.Ori·loc + t.Loc, orientation ← t.Ori·ori.
func (k Kernel) TransformedWith(t Kernel) (Kernel, error) {
	if t.group != SE3 {
		return Kernel{}, mismatch("transform", SE3, t.group)
	}
	p := k
	p.Loc = r3.Add(Rotate(t.Ori, k.Loc), t.Loc)
	if k.group.HasOrientation() {
		p.Ori = Normalize(quat.Mul(t.Ori, k.Ori))
	}
	return p, nil
}

// ProjectedOn expresses k in the local frame of frame (an SE3 kernel). It
// is the inverse of TransformedWith.
func (k Kernel) ProjectedOn(frame Kernel) (Kernel, error) {
	if frame.group != SE3 {
		return Kernel{}, mismatch("project", SE3, frame.group)
	}
	inv := quat.Conj(frame.Ori)
	p := k
	p.Loc = Rotate(inv, r3.Sub(k.Loc, frame.Loc))
	if k.group.HasOrientation() {
		p.Ori = Normalize(quat.Mul(inv, k.Ori))
	}
	return p, nil
}

// TransformationFrom returns the rigid transform T such that
// frame.TransformedWith(T) equals k. Both kernels must be SE3. The result
// carries k's bandwidths, weight and descriptor.
func (k Kernel) TransformationFrom(frame Kernel) (Kernel, error) {
	if k.group != SE3 {
		return Kernel{}, mismatch("transformation", SE3, k.group)
	}
	if frame.group != SE3 {
		return Kernel{}, mismatch("transformation", SE3, frame.group)
	}
	t := k
	t.Ori = Normalize(quat.Mul(k.Ori, quat.Conj(frame.Ori)))
	t.Loc = r3.Sub(k.Loc, Rotate(t.Ori, frame.Loc))
	return t, nil
}

// Inverse returns the transform undoing k, i.e. the origin expressed as a
// transformation from k.
func (k Kernel) Inverse() (Kernel, error) {
	if k.group != SE3 {
		return Kernel{}, mismatch("inverse", SE3, k.group)
	}
	origin := New(SE3)
	inv, err := origin.TransformationFrom(k)
	if err != nil {
		return Kernel{}, err
	}
	inv.LocH, inv.OriH, inv.Weight, inv.Shape, inv.Descriptor = k.LocH, k.OriH, k.Weight, k.Shape, k.Descriptor
	return inv, nil
}
