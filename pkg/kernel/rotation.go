package kernel

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"
)

var zAxis = r3.Vec{Z: 1}

// IdentityOrientation is the unit quaternion of the null rotation.
func IdentityOrientation() quat.Number {
	return quat.Number{Real: 1}
}

// Normalize returns q scaled to unit norm. The zero quaternion maps to the
// identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return IdentityOrientation()
	}
	return quat.Scale(1/n, q)
}

// Rotate applies the rotation encoded by the unit quaternion q to v.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vec{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

// AxisAngle returns the rotation of angle radians about axis. A degenerate
// axis yields the identity.
func AxisAngle(axis r3.Vec, angle float64) quat.Number {
	n := r3.Norm(axis)
	if n == 0 {
		return IdentityOrientation()
	}
	s := math.Sin(angle/2) / n
	return quat.Number{Real: math.Cos(angle / 2), Imag: axis.X * s, Jmag: axis.Y * s, Kmag: axis.Z * s}
}

// RotationBetween returns the shortest rotation taking unit vector a onto
// unit vector b.
func RotationBetween(a, b r3.Vec) quat.Number {
	c := r3.Dot(a, b)
	if c >= 1-FloatTol {
		return IdentityOrientation()
	}
	if c <= -1+FloatTol {
		// Any axis orthogonal to a works for a half turn.
		axis := r3.Cross(a, r3.Vec{X: 1})
		if r3.Norm(axis) < 1e-6 {
			axis = r3.Cross(a, r3.Vec{Y: 1})
		}
		return AxisAngle(axis, math.Pi)
	}
	return AxisAngle(r3.Cross(a, b), math.Acos(c))
}

// RandomOrientation draws a rotation uniformly on SO(3) (Shoemake 1992).
func RandomOrientation(rng *rand.Rand) quat.Number {
	s := rng.Float64()
	s1 := math.Sqrt(1 - s)
	s2 := math.Sqrt(s)
	t1 := 2 * math.Pi * rng.Float64()
	t2 := 2 * math.Pi * rng.Float64()
	return quat.Number{
		Real: math.Cos(t2) * s2,
		Imag: math.Sin(t1) * s1,
		Jmag: math.Cos(t1) * s1,
		Kmag: math.Sin(t2) * s2,
	}
}

// RandomDirection draws a unit vector uniformly on S².
func RandomDirection(rng *rand.Rand) r3.Vec {
	n := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	for {
		v := r3.Vec{X: n.Rand(), Y: n.Rand(), Z: n.Rand()}
		if d := r3.Norm(v); d > 1e-9 {
			return r3.Scale(1/d, v)
		}
	}
}

func dot4(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

// so3Distance is the geodesic angle between two rotations, in [0, π]. The
// atan2 form keeps full precision for nearly equal rotations.
func so3Distance(a, b quat.Number) float64 {
	if dot4(a, b) < 0 {
		b = quat.Scale(-1, b)
	}
	return 2 * math.Atan2(quat.Abs(quat.Sub(a, b)), quat.Abs(quat.Add(a, b)))
}

// s2Distance is the angle between two directions, in [0, π].
func s2Distance(a, b r3.Vec) float64 {
	return math.Atan2(r3.Norm(r3.Cross(a, b)), r3.Dot(a, b))
}

// s2pDistance is the angle between two axes, in [0, π/2].
func s2pDistance(a, b r3.Vec) float64 {
	return math.Atan2(r3.Norm(r3.Cross(a, b)), math.Abs(r3.Dot(a, b)))
}
