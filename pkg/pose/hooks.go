package pose

import (
	"gonum.org/v1/gonum/spatial/r3"

	"posekde/pkg/kernel"
)

// Reachability restricts the poses the estimator may consider. Candidates
// for which Reachable returns false are rejected before scoring.
type Reachability interface {
	Reachable(pose kernel.Kernel) bool
}

// ReachabilityFunc adapts a function to Reachability.
type ReachabilityFunc func(pose kernel.Kernel) bool

func (f ReachabilityFunc) Reachable(pose kernel.Kernel) bool { return f(pose) }

// Visibility decides whether an object point, expressed in the object frame,
// can be seen from a viewpoint expressed in the same frame. It enables
// partial-view matching: only visible points are scored.
type Visibility interface {
	Visible(point kernel.Kernel, viewpoint r3.Vec) bool
}

// VisibilityFunc adapts a function to Visibility.
type VisibilityFunc func(point kernel.Kernel, viewpoint r3.Vec) bool

func (f VisibilityFunc) Visible(point kernel.Kernel, viewpoint r3.Vec) bool {
	return f(point, viewpoint)
}

// FacingViewpoint is a Visibility that keeps oriented points whose normal
// points towards the viewpoint. Points without orientation are always
// visible. It approximates a mesh occlusion test for convex objects.
type FacingViewpoint struct{}

func (FacingViewpoint) Visible(point kernel.Kernel, viewpoint r3.Vec) bool {
	switch point.Group() {
	case kernel.S2, kernel.SE3:
		return r3.Dot(point.Dir(), r3.Sub(viewpoint, point.Loc)) > 0
	}
	return true
}
