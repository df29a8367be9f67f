// Package concurrency has the small worker-pool helpers used when the
// engine fans out independent fetches (curriculum and scores on a manual
// refresh). Nothing here is clever: bounded workers over a job channel.
package concurrency

import (
	"context"
	"sync"
)

// ParallelOptions bounds a parallel run.
type ParallelOptions struct {
	// MaxWorkers caps concurrent workers; <= 0 means the default.
	MaxWorkers int
}

func DefaultOptions() ParallelOptions {
	return ParallelOptions{MaxWorkers: 4}
}

// ForEach runs itemFunc once per item on a bounded worker pool and returns
// every error produced. Useful when only the side effects matter.
func ForEach[T any](
	ctx context.Context,
	items []T,
	opts ParallelOptions,
	itemFunc func(ctx context.Context, index int, item T) error,
) []error {
	if len(items) == 0 {
		return nil
	}

	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = DefaultOptions().MaxWorkers
	}
	if maxWorkers > len(items) {
		maxWorkers = len(items)
	}

	jobs := make(chan int, len(items))
	errs := make(chan error, len(items))

	var wg sync.WaitGroup
	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for jobIndex := range jobs {
				select {
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				default:
					if err := itemFunc(ctx, jobIndex, items[jobIndex]); err != nil {
						errs <- err
					}
				}
			}
		}()
	}

	for i := range items {
		jobs <- i
	}
	close(jobs)

	wg.Wait()
	close(errs)

	var out []error
	for err := range errs {
		out = append(out, err)
	}
	return out
}
