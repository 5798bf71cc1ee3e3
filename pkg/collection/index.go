package collection

import (
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// locPoint is a kernel location tagged with its position in the collection.
type locPoint struct {
	r3.Vec
	idx int
}

func (p locPoint) coord(d kdtree.Dim) float64 {
	switch d {
	case 0:
		return p.X
	case 1:
		return p.Y
	case 2:
		return p.Z
	}
	panic("collection: illegal dimension")
}

func (p locPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.coord(d) - c.(locPoint).coord(d)
}

func (p locPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance.
func (p locPoint) Distance(c kdtree.Comparable) float64 {
	return r3.Norm2(r3.Sub(p.Vec, c.(locPoint).Vec))
}

type locPoints []locPoint

func (p locPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p locPoints) Len() int                              { return len(p) }
func (p locPoints) Pivot(d kdtree.Dim) int                { return locPlane{Dim: d, locPoints: p}.Pivot() }
func (p locPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

type locPlane struct {
	kdtree.Dim
	locPoints
}

func (p locPlane) Less(i, j int) bool {
	return p.locPoints[i].coord(p.Dim) < p.locPoints[j].coord(p.Dim)
}
func (p locPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p locPlane) Slice(start, end int) kdtree.SortSlicer {
	p.locPoints = p.locPoints[start:end]
	return p
}
func (p locPlane) Swap(i, j int) {
	p.locPoints[i], p.locPoints[j] = p.locPoints[j], p.locPoints[i]
}

type spatialIndex struct {
	generation uint64
	tree       *kdtree.Tree
}

// radiusPad absorbs rounding between squared and plain distances so that a
// kernel exactly at the cut point is never dropped.
const radiusPad = 1 + 1e-9

func (s *spatialIndex) within(q r3.Vec, radius float64, visit func(idx int)) {
	r := radius * radiusPad
	keep := kdtree.NewDistKeeper(r * r)
	s.tree.NearestSet(keep, locPoint{Vec: q})
	for _, c := range keep.Heap {
		// The keeper may retain a nil sentinel.
		if c.Comparable == nil {
			continue
		}
		visit(c.Comparable.(locPoint).idx)
	}
}

// BuildIndex builds a kd-tree over kernel locations.
func (c *Collection) BuildIndex() {
	pts := make(locPoints, len(c.kernels))
	for i, k := range c.kernels {
		pts[i] = locPoint{Vec: k.Loc, idx: i}
	}
	c.index = &spatialIndex{generation: c.generation, tree: kdtree.New(pts, false)}
}

// HasIndex reports whether the spatial index is valid.
func (c *Collection) HasIndex() bool {
	return c.index != nil && c.index.generation == c.generation
}

// Neighbors returns the indices of the kernels whose location lies within
// radius of q, in no particular order.
func (c *Collection) Neighbors(q r3.Vec, radius float64) ([]int, error) {
	if !c.HasIndex() {
		return nil, ErrIndexUndefined
	}
	var out []int
	c.index.within(q, radius, func(idx int) { out = append(out, idx) })
	return out, nil
}
