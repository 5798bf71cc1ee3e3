// Package parallel runs independent tasks either on a bounded pool of
// goroutines or one after the other in the calling goroutine.
package parallel

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Mode selects how tasks are executed.
type Mode int

const (
	// Goroutines runs tasks concurrently, at most Workers at a time.
	Goroutines Mode = iota
	// Serial runs tasks in index order in the calling goroutine.
	Serial
)

func (m Mode) String() string {
	switch m {
	case Goroutines:
		return "goroutines"
	case Serial:
		return "serial"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses the String form of a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "goroutines", "threads", "parallel":
		return Goroutines, nil
	case "serial", "none":
		return Serial, nil
	}
	return 0, fmt.Errorf("unknown runner mode %q", s)
}

// Options configures Run.
type Options struct {
	Mode Mode
	// Workers bounds the number of concurrent tasks. Zero or less means
	// runtime.NumCPU().
	Workers int
}

// Task computes the result of the i-th unit of work.
type Task[T any] func(ctx context.Context, i int) (T, error)

// Run executes tasks 0..n-1 and returns their results in completion order.
// The first failing task cancels the context passed to the others, and its
// error is returned.
func Run[T any](ctx context.Context, n int, opts Options, task Task[T]) ([]T, error) {
	if n <= 0 {
		return nil, nil
	}
	if opts.Mode == Serial {
		return runSerial(ctx, n, task)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	results := make(chan T, n)
	for i := range n {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := task(gctx, i)
			if err != nil {
				return fmt.Errorf("task %d: %w", i, err)
			}
			results <- r
			return nil
		})
	}
	err := g.Wait()
	close(results)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, n)
	for r := range results {
		out = append(out, r)
	}
	return out, nil
}

func runSerial[T any](ctx context.Context, n int, task Task[T]) ([]T, error) {
	out := make([]T, 0, n)
	for i := range n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := task(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}
