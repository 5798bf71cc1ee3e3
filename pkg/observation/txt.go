// Package observation reads and writes kernel collections as whitespace
// separated text, one kernel per line:
//
//	x y z                  R3 point
//	x y z nx ny nz         point with a surface normal (S2, or S2P if axial)
//	x y z qw qx qy qz      SE3 pose
//
// Blank lines and lines starting with # are ignored. Every kernel of a file
// must have the same number of columns.
package observation

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"posekde/pkg/collection"
	"posekde/pkg/kernel"
)

// ErrFormat is returned for lines that cannot be parsed.
var ErrFormat = errors.New("malformed observation")

type readOptions struct {
	axial bool
}

// ReadOption configures Read.
type ReadOption func(*readOptions)

// WithAxialNormals reads six-column lines as S2P kernels, treating n and -n
// as the same normal.
func WithAxialNormals() ReadOption {
	return func(o *readOptions) { o.axial = true }
}

// Read parses every kernel from r.
func Read(r io.Reader, opts ...ReadOption) (*collection.Collection, error) {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}

	c := collection.New()
	columns := 0
	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if columns == 0 {
			columns = len(fields)
		} else if len(fields) != columns {
			return nil, fmt.Errorf("line %d: %w: %d columns, previous lines have %d", line, ErrFormat, len(fields), columns)
		}
		k, err := parseKernel(fields, o)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := c.Add(k); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading observations: %w", err)
	}
	return c, nil
}

func parseKernel(fields []string, o readOptions) (kernel.Kernel, error) {
	switch len(fields) {
	case 3, 6, 7:
	default:
		return kernel.Kernel{}, fmt.Errorf("%w: expected 3, 6 or 7 columns, got %d", ErrFormat, len(fields))
	}
	v := make([]float64, len(fields))
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return kernel.Kernel{}, fmt.Errorf("%w: %q is not a number", ErrFormat, f)
		}
		v[i] = x
	}
	loc := r3.Vec{X: v[0], Y: v[1], Z: v[2]}
	switch len(v) {
	case 3:
		return kernel.NewR3(loc), nil
	case 6:
		n := r3.Vec{X: v[3], Y: v[4], Z: v[5]}
		if r3.Norm(n) == 0 {
			return kernel.Kernel{}, fmt.Errorf("%w: zero normal", ErrFormat)
		}
		if o.axial {
			return kernel.NewS2P(loc, n), nil
		}
		return kernel.NewS2(loc, n), nil
	default:
		q := quat.Number{Real: v[3], Imag: v[4], Jmag: v[5], Kmag: v[6]}
		if quat.Abs(q) == 0 {
			return kernel.Kernel{}, fmt.Errorf("%w: zero quaternion", ErrFormat)
		}
		return kernel.NewSE3(loc, q), nil
	}
}

// ReadFile reads the kernels stored in path.
func ReadFile(path string, opts ...ReadOption) (*collection.Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening observation file: %w", err)
	}
	defer f.Close()
	c, err := Read(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func formatFloat(x float64) string {
	return strconv.FormatFloat(x, 'g', -1, 64)
}

func formatKernel(k kernel.Kernel) string {
	parts := []float64{k.Loc.X, k.Loc.Y, k.Loc.Z}
	switch k.Group() {
	case kernel.S2, kernel.S2P:
		d := k.Dir()
		parts = append(parts, d.X, d.Y, d.Z)
	case kernel.SE3:
		parts = append(parts, k.Ori.Real, k.Ori.Imag, k.Ori.Jmag, k.Ori.Kmag)
	}
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = formatFloat(p)
	}
	return strings.Join(s, " ")
}

// Write writes every kernel of c to w. Weights and bandwidths are not
// stored.
func Write(w io.Writer, c *collection.Collection) error {
	bw := bufio.NewWriter(w)
	for _, k := range c.All() {
		if _, err := fmt.Fprintln(bw, formatKernel(k)); err != nil {
			return fmt.Errorf("error writing observations: %w", err)
		}
	}
	return bw.Flush()
}

// WriteKernel writes a single kernel, typically an estimated pose.
func WriteKernel(w io.Writer, k kernel.Kernel) error {
	_, err := fmt.Fprintln(w, formatKernel(k))
	return err
}

// WriteFile writes c to path, creating or truncating it.
func WriteFile(path string, c *collection.Collection) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating observation file: %w", err)
	}
	if err := Write(f, c); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
