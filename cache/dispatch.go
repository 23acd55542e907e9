package cache

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Dispatcher runs functions asynchronously. Dispatch must not block the
// caller on the execution of fn and must not run fn inline.
type Dispatcher interface {
	Dispatch(fn func())
}

// WorkerPool is a Dispatcher that runs at most a fixed number of functions
// at once. Functions queued beyond the limit wait for a free slot.
type WorkerPool struct {
	sem *semaphore.Weighted
}

var _ Dispatcher = (*WorkerPool)(nil)

// NewWorkerPool returns a WorkerPool running up to size functions
// concurrently. A size below one is treated as one.
func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{sem: semaphore.NewWeighted(int64(size))}
}

func (p *WorkerPool) Dispatch(fn func()) {
	go func() {
		// Acquire only fails on a cancelled context.
		_ = p.sem.Acquire(context.Background(), 1)
		defer p.sem.Release(1)
		fn()
	}()
}

var (
	defaultDispatcher     *WorkerPool
	defaultDispatcherOnce sync.Once
)

// DefaultDispatcher returns the process-wide WorkerPool used when no
// Dispatcher is configured. It is created on first use.
func DefaultDispatcher() Dispatcher {
	defaultDispatcherOnce.Do(func() {
		defaultDispatcher = NewWorkerPool(runtime.GOMAXPROCS(0) * 4)
	})
	return defaultDispatcher
}
