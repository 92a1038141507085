package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool closed")

// DefaultPoolSize is the number of blocking operations run concurrently.
const DefaultPoolSize = 8

// Task is a unit of blocking work.
type Task func() (string, error)

// Future holds the eventual result of a submitted task.
type Future struct {
	done   chan struct{}
	output string
	err    error
}

// Ready reports whether the task has finished, without blocking.
func (f *Future) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Done is closed once the task has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the task output. It must only be called once Ready is true.
func (f *Future) Result() (string, error) {
	return f.output, f.err
}

// WorkerPool runs tasks on a bounded number of goroutines.
type WorkerPool struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	closed atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorkerPool creates a pool running at most size tasks at once.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		sem:    semaphore.NewWeighted(int64(size)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit queues a task and returns immediately. The task waits for a free
// slot; a panic inside it is converted into an error result.
func (p *WorkerPool) Submit(task Task) (*Future, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	f := &Future{done: make(chan struct{})}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(f.done)

		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			f.err = fmt.Errorf("%w: %v", ErrPoolClosed, err)
			return
		}
		defer p.sem.Release(1)

		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("panic: %v", r)
			}
		}()
		f.output, f.err = task()
	}()
	return f, nil
}

// Close rejects new tasks, abandons queued ones and waits for running
// tasks to finish.
func (p *WorkerPool) Close() {
	if p.closed.Swap(true) {
		return
	}
	p.cancel()
	p.wg.Wait()
}
