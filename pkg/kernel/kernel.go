// Package kernel implements weighted, bandwidth-parametrized density kernels
// over R3, R3×S2, R3×S2 (axial) and SE(3).
//
// A Kernel is a closed tagged variant: its Group is fixed at construction and
// selects the code path of every operation. Operations that combine two
// kernels check the groups once and fail with a *TypeMismatchError when no
// conversion is defined.
package kernel

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Kernel is a density "bump" centered at a location and, for orientation
// bearing groups, an orientation.
//
// For S2 and S2P kernels Ori is a rotation taking the +Z axis onto the
// direction; only the direction is meaningful, the twist about it is not.
// Kernels are values: copying a Kernel copies every field, except that
// Descriptor is an opaque payload copied by reference.
type Kernel struct {
	group Group

	Loc  r3.Vec
	LocH float64

	Ori  quat.Number
	OriH float64

	Weight float64
	Shape  Shape

	// Descriptor is an optional feature payload, never interpreted here.
	Descriptor any
}

// New returns a kernel of group g at the origin with identity orientation
// and unit weight.
func New(g Group) Kernel {
	return Kernel{group: g, Ori: IdentityOrientation(), Weight: 1}
}

// NewR3 returns a position-only kernel.
func NewR3(loc r3.Vec) Kernel {
	k := New(R3)
	k.Loc = loc
	return k
}

// NewS2 returns a kernel carrying a position and a direction. dir need not
// be normalized but must be non-zero.
func NewS2(loc, dir r3.Vec) Kernel {
	k := New(S2)
	k.Loc = loc
	k.SetDir(dir)
	return k
}

// NewS2P returns a kernel carrying a position and an axis.
func NewS2P(loc, dir r3.Vec) Kernel {
	k := New(S2P)
	k.Loc = loc
	k.SetDir(dir)
	return k
}

// NewSE3 returns a pose kernel. ori is normalized.
func NewSE3(loc r3.Vec, ori quat.Number) Kernel {
	k := New(SE3)
	k.Loc = loc
	k.Ori = Normalize(ori)
	return k
}

// Group returns the immutable group type of k.
func (k Kernel) Group() Group { return k.group }

// Dir returns the direction of an S2/S2P kernel, or the local z axis of an
// SE3 kernel.
func (k Kernel) Dir() r3.Vec {
	return Rotate(k.Ori, zAxis)
}

// SetDir sets the direction of an S2/S2P kernel.
func (k *Kernel) SetDir(dir r3.Vec) {
	n := r3.Norm(dir)
	if n == 0 {
		k.Ori = IdentityOrientation()
		return
	}
	k.Ori = RotationBetween(zAxis, r3.Scale(1/n, dir))
}

// CutPoint is the location distance beyond which k contributes nothing.
func (k Kernel) CutPoint() float64 {
	return k.Shape.CutPoint(k.LocH)
}

// HasDescriptor reports whether a descriptor is attached.
func (k Kernel) HasDescriptor() bool { return k.Descriptor != nil }

// Validate checks the field invariants of k.
func (k Kernel) Validate() error {
	if !k.group.Valid() {
		return fmt.Errorf("%w: unknown group %d", ErrInvalidKernel, int(k.group))
	}
	if !(k.Weight >= 0) {
		return fmt.Errorf("%w: negative weight %g", ErrInvalidKernel, k.Weight)
	}
	if !(k.LocH >= 0) || !(k.OriH >= 0) {
		return fmt.Errorf("%w: negative bandwidth (loc %g, ori %g)", ErrInvalidKernel, k.LocH, k.OriH)
	}
	if k.group.HasOrientation() {
		if n := quat.Abs(k.Ori); math.Abs(n-1) > 1e-6 {
			return fmt.Errorf("%w: orientation norm %g", ErrInvalidKernel, n)
		}
	}
	return nil
}

func (k Kernel) String() string {
	switch k.group {
	case R3:
		return fmt.Sprintf("r3{loc=%v h=%g w=%g}", k.Loc, k.LocH, k.Weight)
	case S2, S2P:
		return fmt.Sprintf("%s{loc=%v dir=%v h=%g/%g w=%g}", k.group, k.Loc, k.Dir(), k.LocH, k.OriH, k.Weight)
	}
	return fmt.Sprintf("se3{loc=%v ori=%v h=%g/%g w=%g}", k.Loc, k.Ori, k.LocH, k.OriH, k.Weight)
}
