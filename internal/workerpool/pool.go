// Package workerpool implements the fixed-size goroutine pool the
// training engine fans its four parallel regions out over: BMU search
// across rows, batch update across cells, radius update across cells,
// and codebook RNG initialization across cells. Spawning one goroutine
// per row or cell would thrash the scheduler on large corpora, so every
// call partitions its index range into numWorkers contiguous chunks and
// runs one goroutine per chunk.
package workerpool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Pool bounds the number of goroutines used for a parallel region.
type Pool struct {
	numWorkers int
}

// New creates a pool sized to numWorkers. A non-positive value defaults
// to GOMAXPROCS.
func New(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	return &Pool{numWorkers: numWorkers}
}

// NumWorkers reports the pool's configured width.
func (p *Pool) NumWorkers() int { return p.numWorkers }

// Range partitions [0, n) into contiguous chunks, one per worker, and
// calls fn(i) for every index in the caller's goroutine's chunk. The
// first error returned by any call aborts the remaining chunks and is
// returned to the caller; indices already dispatched to other chunks
// still run to completion. Order of visitation across chunks is
// unspecified, matching the engine's requirement that results not
// depend on visitation order.
func (p *Pool) Range(ctx context.Context, n int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}

	workers := p.numWorkers
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := fn(i); err != nil {
					return err
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
			return nil
		})
	}
	return g.Wait()
}
