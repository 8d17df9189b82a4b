// Package parallel runs independent per-item work on a bounded number of
// goroutines.
//
// Results keep the order of their inputs, so callers that need deterministic
// output (the profiler, which must produce identical schemas on every run)
// can fan work out freely.
package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// WorkerPool bounds the goroutines used by Map.
type WorkerPool struct {
	numWorkers int
}

// NewWorkerPool creates a pool; numWorkers <= 0 uses runtime.NumCPU().
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	return &WorkerPool{numWorkers: numWorkers}
}

// Workers returns the goroutine bound.
func (wp *WorkerPool) Workers() int { return wp.numWorkers }

// Map applies worker to every item and returns the results in input order.
// Once ctx is done no further items are started and ctx.Err() is returned.
// A single worker or a single item runs on the calling goroutine.
func Map[T, R any](ctx context.Context, wp *WorkerPool, items []T, worker func(int, T) R) ([]R, error) {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, ctx.Err()
	}

	workers := min(wp.numWorkers, len(items))
	if workers <= 1 {
		for i, item := range items {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			results[i] = worker(i, item)
		}
		return results, nil
	}

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = worker(i, item)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
