// Package worker provides a generic concurrent worker pool used to fan
// work items out across a bounded number of goroutines.
package worker

import (
	"context"
	"runtime"
	"sync"
)

// Result pairs a processed value with its original index so callers can
// correlate outcomes with inputs.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Pool fans items out to a fixed number of goroutine workers and collects
// results preserving input order. Errors are captured per result rather
// than aborting the batch.
type Pool[T any] struct {
	concurrency int
}

// NewPool creates a pool with the given concurrency. Non-positive values
// default to the CPU count.
func NewPool[T any](concurrency int) *Pool[T] {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Pool[T]{concurrency: concurrency}
}

// Process distributes items across workers and applies fn to each. A
// cancelled context stops dispatch; items never started report ctx.Err().
func (p *Pool[T]) Process(ctx context.Context, items []string, fn func(context.Context, string) (T, error)) []Result[T] {
	if len(items) == 0 {
		return nil
	}

	workers := p.concurrency
	if workers > len(items) {
		workers = len(items)
	}

	type job struct {
		index int
		item  string
	}

	jobs := make(chan job, len(items))
	results := make([]Result[T], len(items))
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					results[j.index] = Result[T]{Index: j.index, Err: err}
					continue
				}
				val, err := fn(ctx, j.item)
				results[j.index] = Result[T]{Index: j.index, Value: val, Err: err}
			}
		}()
	}

	for i, item := range items {
		jobs <- job{index: i, item: item}
	}
	close(jobs)
	wg.Wait()

	return results
}
