// Package parallel runs an integer index range across a fixed set of worker
// goroutines with first-failure-wins error propagation.
package parallel

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Func processes a single item. worker is in [0, threads) and identifies the
// goroutine running the item, so callers can index per-worker buffers with it.
type Func func(item, worker int) error

// Runner executes fn for every index in [start, end) using up to threads workers
type Runner interface {
	Run(start, end, threads int, fn Func) error
}

// Pool is the default Runner. Each call gets a fresh set of workers.
type Pool struct{}

// Run implements Runner
func (Pool) Run(start, end, threads int, fn Func) error {
	return For(start, end, threads, fn)
}

// WorkerError records the item and worker that produced the first failure
type WorkerError struct {
	Item   int
	Worker int
	Err    error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("item %d (worker %d): %v", e.Item, e.Worker, e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// Resolve maps a requested thread count to the number of workers to start.
// Non-positive values mean "use every available CPU".
func Resolve(threads int) int {
	if threads <= 0 {
		return runtime.NumCPU()
	}
	return threads
}

// For calls fn exactly once for every index in [start, end).
//
// With a single thread the items run in ascending order on the caller's
// goroutine. Otherwise the items are claimed from a shared cursor, so uneven
// items balance across workers. When fn fails the cursor is moved to end,
// items already claimed run to completion, and the first failure is returned
// once every worker has exited.
func For(start, end, threads int, fn Func) error {
	if end <= start {
		return nil
	}
	threads = Resolve(threads)

	if threads == 1 {
		for i := start; i < end; i++ {
			if err := call(fn, i, 0); err != nil {
				return err
			}
		}
		return nil
	}

	c := newCursor(start, end)
	var g errgroup.Group
	for w := 0; w < threads; w++ {
		g.Go(func() error {
			for {
				i, ok := c.next()
				if !ok {
					return nil
				}
				if err := call(fn, i, w); err != nil {
					c.stop()
					return err
				}
			}
		})
	}
	return g.Wait()
}

// call runs fn and converts both errors and panics into a *WorkerError
func call(fn Func, item, worker int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &WorkerError{Item: item, Worker: worker, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if ferr := fn(item, worker); ferr != nil {
		return &WorkerError{Item: item, Worker: worker, Err: ferr}
	}
	return nil
}

// cursor hands out item indices. It lives for a single For call.
type cursor struct {
	pos atomic.Int64
	end int64
}

func newCursor(start, end int) *cursor {
	c := &cursor{end: int64(end)}
	c.pos.Store(int64(start))
	return c
}

func (c *cursor) next() (int, bool) {
	i := c.pos.Add(1) - 1
	if i >= c.end {
		return 0, false
	}
	return int(i), true
}

// stop makes every later next call report exhaustion
func (c *cursor) stop() {
	c.pos.Store(c.end)
}
