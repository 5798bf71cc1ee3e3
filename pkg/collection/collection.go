// Package collection holds an owned, ordered set of kernels together with
// derived helper structures: aggregate statistics and a kd-tree over kernel
// locations.
//
// Every mutating entry point goes through a single method that bumps a
// generation counter. Statistics and the spatial index remember the
// generation they were built at and are unreadable once it moves on, so
// stale derived data can never be observed. Mutation always invalidates both,
// even when only one would logically be affected.
//
// A Collection is safe for concurrent use by multiple readers as long as no
// goroutine mutates it.
package collection

import (
	"fmt"
	"iter"

	"gonum.org/v1/gonum/spatial/r3"

	"posekde/pkg/kernel"
)

// DefaultFastPathThreshold is the collection size above which EvaluationAt
// uses the spatial index.
const DefaultFastPathThreshold = 1000

// Collection is an ordered set of kernels of a single group type.
// Insertion order is preserved for reproducible iteration only.
type Collection struct {
	kernels []kernel.Kernel
	group   kernel.Group
	typed   bool

	generation uint64
	stats      *statistics
	index      *spatialIndex

	fastPathThreshold int
}

// New returns an empty collection.
func New() *Collection {
	return &Collection{fastPathThreshold: DefaultFastPathThreshold}
}

// FromKernels builds a collection from ks, validating each kernel.
func FromKernels(ks []kernel.Kernel) (*Collection, error) {
	c := New()
	for i, k := range ks {
		if err := c.Add(k); err != nil {
			return nil, fmt.Errorf("kernel %d: %w", i, err)
		}
	}
	return c, nil
}

// mutate is the only place where derived state is invalidated. Every
// operation that may change a kernel calls it before doing so.
func (c *Collection) mutate() {
	c.generation++
	c.stats = nil
	c.index = nil
}

// Generation returns a counter incremented by every mutation.
func (c *Collection) Generation() uint64 { return c.generation }

// Len returns the number of kernels.
func (c *Collection) Len() int { return len(c.kernels) }

// Empty reports whether the collection holds no kernel.
func (c *Collection) Empty() bool { return len(c.kernels) == 0 }

// Group returns the kernel type shared by every element. It fails with
// ErrUndefinedType on an empty collection.
func (c *Collection) Group() (kernel.Group, error) {
	if !c.typed {
		return 0, ErrUndefinedType
	}
	return c.group, nil
}

// At returns a copy of the i-th kernel. It panics if i is out of range.
func (c *Collection) At(i int) kernel.Kernel { return c.kernels[i] }

// All iterates over copies of the kernels in insertion order.
func (c *Collection) All() iter.Seq2[int, kernel.Kernel] {
	return func(yield func(int, kernel.Kernel) bool) {
		for i, k := range c.kernels {
			if !yield(i, k) {
				return
			}
		}
	}
}

// Mutable iterates over pointers to the kernels for in-place modification.
// Derived state is invalidated before the first element is yielded. The
// pointers must not be retained after the iteration. Changing a kernel's
// group or leaving it invalid through a pointer is a programming error and
// panics.
func (c *Collection) Mutable() iter.Seq2[int, *kernel.Kernel] {
	return func(yield func(int, *kernel.Kernel) bool) {
		c.mutate()
		for i := range c.kernels {
			cont := yield(i, &c.kernels[i])
			c.mustBeIntact(i)
			if !cont {
				return
			}
		}
	}
}

// mustBeIntact panics if the i-th kernel was given another group or broke
// its field invariants during an in-place iteration.
func (c *Collection) mustBeIntact(i int) {
	k := c.kernels[i]
	if k.Group() != c.group {
		panic(fmt.Sprintf("collection: kernel %d changed group from %s to %s", i, c.group, k.Group()))
	}
	if err := k.Validate(); err != nil {
		panic(fmt.Sprintf("collection: kernel %d: %v", i, err))
	}
}

// Kernels returns a copy of the underlying kernels.
func (c *Collection) Kernels() []kernel.Kernel {
	out := make([]kernel.Kernel, len(c.kernels))
	copy(out, c.kernels)
	return out
}

// Locations returns the kernel locations as a raw point cloud.
func (c *Collection) Locations() []r3.Vec {
	out := make([]r3.Vec, len(c.kernels))
	for i, k := range c.kernels {
		out[i] = k.Loc
	}
	return out
}

func (c *Collection) checkGroup(op string, k kernel.Kernel) error {
	if c.typed && k.Group() != c.group {
		return &kernel.TypeMismatchError{Op: op, Want: c.group, Got: k.Group()}
	}
	return nil
}

// Add appends a copy of k. The first insertion fixes the collection's kernel
// type; later insertions of another type fail with ErrTypeMismatch.
func (c *Collection) Add(k kernel.Kernel) error {
	if err := k.Validate(); err != nil {
		return err
	}
	if err := c.checkGroup("add", k); err != nil {
		return err
	}
	c.mutate()
	if !c.typed {
		c.group, c.typed = k.Group(), true
	}
	c.kernels = append(c.kernels, k)
	return nil
}

// AddAll appends copies of every kernel of other. Nothing is added if the
// types do not match.
func (c *Collection) AddAll(other *Collection) error {
	if other.Empty() {
		return nil
	}
	if err := c.checkGroup("add", other.kernels[0]); err != nil {
		return err
	}
	c.mutate()
	if !c.typed {
		c.group, c.typed = other.group, true
	}
	c.kernels = append(c.kernels, other.kernels...)
	return nil
}

// Replace overwrites the i-th kernel with k.
func (c *Collection) Replace(i int, k kernel.Kernel) error {
	if i < 0 || i >= len(c.kernels) {
		return fmt.Errorf("%w: index %d out of range [0, %d)", kernel.ErrPreconditionViolation, i, len(c.kernels))
	}
	if err := k.Validate(); err != nil {
		return err
	}
	if err := c.checkGroup("replace", k); err != nil {
		return err
	}
	c.mutate()
	c.kernels[i] = k
	return nil
}

// Update applies fn to a copy of the i-th kernel and stores the result if it
// is valid and of the collection's group. Otherwise the kernel is left
// unchanged and the error returned.
func (c *Collection) Update(i int, fn func(k *kernel.Kernel)) error {
	if i < 0 || i >= len(c.kernels) {
		return fmt.Errorf("%w: index %d out of range [0, %d)", kernel.ErrPreconditionViolation, i, len(c.kernels))
	}
	c.mutate()
	k := c.kernels[i]
	fn(&k)
	if err := c.checkGroup("update", k); err != nil {
		return err
	}
	if err := k.Validate(); err != nil {
		return err
	}
	c.kernels[i] = k
	return nil
}

// Remove deletes the i-th kernel, preserving the order of the others.
func (c *Collection) Remove(i int) error {
	if i < 0 || i >= len(c.kernels) {
		return fmt.Errorf("%w: index %d out of range [0, %d)", kernel.ErrPreconditionViolation, i, len(c.kernels))
	}
	c.mutate()
	c.kernels = append(c.kernels[:i], c.kernels[i+1:]...)
	if len(c.kernels) == 0 {
		c.typed = false
	}
	return nil
}

// Clear removes every kernel and forgets the kernel type.
func (c *Collection) Clear() {
	c.mutate()
	c.kernels = nil
	c.typed = false
}

// Clone returns a deep copy, including valid derived state.
func (c *Collection) Clone() *Collection {
	out := *c
	out.kernels = c.Kernels()
	if c.stats != nil {
		s := *c.stats
		out.stats = &s
	}
	// The kd-tree is never modified after construction and can be shared.
	return &out
}

// SetFastPathThreshold sets the size above which EvaluationAt queries the
// spatial index. It does not affect derived state.
func (c *Collection) SetFastPathThreshold(n int) {
	c.fastPathThreshold = n
}

// SetLocH sets every kernel's location bandwidth.
func (c *Collection) SetLocH(h float64) error {
	if !(h >= 0) {
		return fmt.Errorf("%w: negative bandwidth %g", kernel.ErrPreconditionViolation, h)
	}
	for _, k := range c.Mutable() {
		k.LocH = h
	}
	return nil
}

// SetOriH sets every kernel's orientation bandwidth.
func (c *Collection) SetOriH(h float64) error {
	if !(h >= 0) {
		return fmt.Errorf("%w: negative bandwidth %g", kernel.ErrPreconditionViolation, h)
	}
	for _, k := range c.Mutable() {
		k.OriH = h
	}
	return nil
}

// SetShape sets every kernel's profile.
func (c *Collection) SetShape(s kernel.Shape) {
	for _, k := range c.Mutable() {
		k.Shape = s
	}
}

// ClearDescriptors drops every kernel's descriptor.
func (c *Collection) ClearDescriptors() {
	for _, k := range c.Mutable() {
		k.Descriptor = nil
	}
}

// TransformWith applies the rigid transform t to every kernel.
func (c *Collection) TransformWith(t kernel.Kernel) error {
	if t.Group() != kernel.SE3 {
		return &kernel.TypeMismatchError{Op: "transform", Want: kernel.SE3, Got: t.Group()}
	}
	for _, k := range c.Mutable() {
		moved, err := k.TransformedWith(t)
		if err != nil {
			return err
		}
		*k = moved
	}
	return nil
}
