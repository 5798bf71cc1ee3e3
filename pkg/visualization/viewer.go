// Package visualization renders planar slices of the location density of a
// kernel collection as grayscale images.
package visualization

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"

	"posekde/pkg/collection"
	"posekde/pkg/kernel"
	"posekde/pkg/parallel"
)

// MaxSliceSide bounds the width and height of a rendered slice, in pixels.
const MaxSliceSide = 4096

// ErrInvalidAxis is returned for an axis other than x, y or z.
var ErrInvalidAxis = errors.New("invalid axis (must be x, y, or z)")

// Viewer renders the weighted location density of a collection.
// Orientations are ignored: every kernel contributes through its location
// bandwidth only.
type Viewer struct {
	density    *collection.Collection
	resolution float64
	runner     parallel.Options

	min, max r3.Vec
}

// NewViewer prepares c for rendering with the given pixel size in world
// units. c is copied and left untouched.
func NewViewer(c *collection.Collection, resolution float64, runner parallel.Options) (*Viewer, error) {
	if c.Empty() {
		return nil, fmt.Errorf("viewer: %w", collection.ErrEmpty)
	}
	if !(resolution > 0) {
		return nil, fmt.Errorf("viewer: resolution must be positive, got %g", resolution)
	}

	density := collection.New()
	for _, k := range c.All() {
		p := kernel.NewR3(k.Loc)
		p.LocH = k.LocH
		p.Weight = k.Weight
		p.Shape = k.Shape
		if err := density.Add(p); err != nil {
			return nil, err
		}
	}
	density.ComputeStatistics()
	density.BuildIndex()
	cut, err := density.MaxCutPoint()
	if err != nil {
		return nil, err
	}

	v := &Viewer{density: density, resolution: resolution, runner: runner}
	v.min, v.max = density.At(0).Loc, density.At(0).Loc
	for _, p := range density.Locations() {
		v.min = r3.Vec{X: math.Min(v.min.X, p.X), Y: math.Min(v.min.Y, p.Y), Z: math.Min(v.min.Z, p.Z)}
		v.max = r3.Vec{X: math.Max(v.max.X, p.X), Y: math.Max(v.max.Y, p.Y), Z: math.Max(v.max.Z, p.Z)}
	}
	pad := r3.Vec{X: cut, Y: cut, Z: cut}
	v.min = r3.Sub(v.min, pad)
	v.max = r3.Add(v.max, pad)
	return v, nil
}

// Bounds returns the corners of the box rendered by the viewer: the
// kernel locations padded by the largest cut point.
func (v *Viewer) Bounds() (lo, hi r3.Vec) { return v.min, v.max }

// plane maps pixel (i, j) of a slice at position along axis to a point.
type plane struct {
	origin r3.Vec
	u, w   r3.Vec
	width  int
	height int
}

func (v *Viewer) plane(axis string, position float64) (plane, error) {
	side := func(lo, hi float64) int { return int(math.Floor((hi-lo)/v.resolution)) + 1 }
	var p plane
	switch axis {
	case "x", "X":
		p = plane{
			origin: r3.Vec{X: position, Y: v.min.Y, Z: v.min.Z},
			u:      r3.Vec{Y: v.resolution},
			w:      r3.Vec{Z: v.resolution},
			width:  side(v.min.Y, v.max.Y),
			height: side(v.min.Z, v.max.Z),
		}
	case "y", "Y":
		p = plane{
			origin: r3.Vec{X: v.min.X, Y: position, Z: v.min.Z},
			u:      r3.Vec{X: v.resolution},
			w:      r3.Vec{Z: v.resolution},
			width:  side(v.min.X, v.max.X),
			height: side(v.min.Z, v.max.Z),
		}
	case "z", "Z":
		p = plane{
			origin: r3.Vec{X: v.min.X, Y: v.min.Y, Z: position},
			u:      r3.Vec{X: v.resolution},
			w:      r3.Vec{Y: v.resolution},
			width:  side(v.min.X, v.max.X),
			height: side(v.min.Y, v.max.Y),
		}
	default:
		return plane{}, fmt.Errorf("%w: %s", ErrInvalidAxis, axis)
	}
	if p.width > MaxSliceSide || p.height > MaxSliceSide {
		return plane{}, fmt.Errorf("slice of %dx%d pixels exceeds %d, use a coarser resolution", p.width, p.height, MaxSliceSide)
	}
	return p, nil
}

// DensitySlice returns the raw density sampled on the slice orthogonal to
// axis at position, row by row.
func (v *Viewer) DensitySlice(ctx context.Context, axis string, position float64) ([][]float64, error) {
	p, err := v.plane(axis, position)
	if err != nil {
		return nil, err
	}

	type row struct {
		j      int
		values []float64
	}
	rows, err := parallel.Run(ctx, p.height, v.runner, func(ctx context.Context, j int) (row, error) {
		values := make([]float64, p.width)
		base := r3.Add(p.origin, r3.Scale(float64(j), p.w))
		for i := range values {
			q := kernel.NewR3(r3.Add(base, r3.Scale(float64(i), p.u)))
			d, err := v.density.EvaluationAt(q, collection.WeightedSum)
			if err != nil {
				return row{}, err
			}
			values[i] = d
		}
		return row{j: j, values: values}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("render slice: %w", err)
	}

	grid := make([][]float64, p.height)
	for _, r := range rows {
		grid[r.j] = r.values
	}
	return grid, nil
}

// ExtractSlice renders the slice orthogonal to axis at position. Intensities
// are scaled so that the densest pixel of the slice is white.
func (v *Viewer) ExtractSlice(ctx context.Context, axis string, position float64) (*image.Gray16, error) {
	grid, err := v.DensitySlice(ctx, axis, position)
	if err != nil {
		return nil, err
	}
	peak := 0.0
	for _, r := range grid {
		for _, d := range r {
			peak = math.Max(peak, d)
		}
	}

	img := image.NewGray16(image.Rect(0, 0, len(grid[0]), len(grid)))
	if peak == 0 {
		return img, nil
	}
	for j, r := range grid {
		for i, d := range r {
			img.SetGray16(i, j, color.Gray16{Y: uint16(math.Round(d / peak * math.MaxUint16))})
		}
	}
	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(file, img, &jpeg.Options{Quality: 90}); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveSliceSequence renders count slices evenly spaced across the bounds
// along axis and saves them to outputDir.
func (v *Viewer) SaveSliceSequence(ctx context.Context, axis string, count int, outputDir string) error {
	if count <= 0 {
		return fmt.Errorf("slice count must be positive, got %d", count)
	}
	var lo, hi float64
	switch axis {
	case "x", "X":
		lo, hi = v.min.X, v.max.X
	case "y", "Y":
		lo, hi = v.min.Y, v.max.Y
	case "z", "Z":
		lo, hi = v.min.Z, v.max.Z
	default:
		return fmt.Errorf("%w: %s", ErrInvalidAxis, axis)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for n := 0; n < count; n++ {
		pos := (lo + hi) / 2
		if count > 1 {
			pos = lo + (hi-lo)*float64(n)/float64(count-1)
		}
		img, err := v.ExtractSlice(ctx, axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, n))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}
	return nil
}
