// Package batch shards index ranges across a bounded worker pool and isolates
// per-item failures.
package batch

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// Failure records one item that returned an error or panicked.
type Failure struct {
	Index int
	Err   error
}

// Workers resolves a configured worker count; zero or negative means one per CPU.
func Workers(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// Run calls fn for every index in [0, n) across at most workers goroutines.
// An error or panic in fn is recorded as a Failure for that index and never
// stops other items. Failures are returned in index order. The only error
// returned is the context's, when it is cancelled mid-run.
func Run(ctx context.Context, n, workers int, fn func(i int) error) ([]Failure, error) {
	if n == 0 {
		return nil, ctx.Err()
	}
	workers = Workers(workers)

	// A few shards per worker keeps the tail short when items vary in cost.
	shard := (n + workers*4 - 1) / (workers * 4)
	if shard < 1 {
		shard = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	var failures []Failure

	for start := 0; start < n; start += shard {
		end := min(start+shard, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := call(fn, i); err != nil {
					mu.Lock()
					failures = append(failures, Failure{Index: i, Err: err})
					mu.Unlock()
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(failures, func(a, b int) bool { return failures[a].Index < failures[b].Index })
	return failures, nil
}

func call(fn func(int) error, i int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("batch: item %d panicked: %v", i, r)
		}
	}()
	return fn(i)
}
