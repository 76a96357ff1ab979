// Package parallel splits flat index ranges across goroutines.
package parallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 16 * 1024, // Element-wise kernels are memory bound.
	}
}

// Range executes f over contiguous sub-ranges [lo, hi) covering [0, n).
// Falls back to a single call if parallelism is disabled or n is too small.
// The first error returned by any sub-range is returned.
func Range(n int, cfg Config, f func(lo, hi int) error) error {
	if n <= 0 {
		return nil
	}
	if !cfg.Enabled || cfg.NumWorkers < 2 || n < 2*cfg.MinChunkSize {
		return f(0, n)
	}

	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)

	var g errgroup.Group
	g.SetLimit(cfg.NumWorkers)
	for start := 0; start < n; start += chunkSize {
		lo, hi := start, min(start+chunkSize, n)
		g.Go(func() error {
			return f(lo, hi)
		})
	}
	return g.Wait()
}

// For executes f(i) for i in [0, n) with optional parallelism.
func For(n int, cfg Config, f func(i int)) {
	_ = Range(n, cfg, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			f(i)
		}
		return nil
	})
}
