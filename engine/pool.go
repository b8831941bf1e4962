package engine

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolStopped is returned when work is submitted to a stopped pool
var ErrPoolStopped = errors.New("worker pool is stopped")

// WorkerPool runs submitted work on a fixed set of goroutines
type WorkerPool interface {
	// Submit queues work, blocking while the queue is full
	Submit(ctx context.Context, work func()) error

	// Stop gracefully stops the worker pool
	Stop(ctx context.Context) error
}

// workerPool implements WorkerPool with bounded concurrency
type workerPool struct {
	workers  int
	workChan chan func()
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// mu orders Submit against Stop; accepted work is queued before done closes
	mu      sync.RWMutex
	stopped bool
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(workers int) WorkerPool {
	if workers <= 0 {
		workers = 1
	}

	pool := &workerPool{
		workers:  workers,
		workChan: make(chan func(), workers*2),
		done:     make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}

	return pool
}

// worker processes work until the pool stops
func (p *workerPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case work := <-p.workChan:
			if work != nil {
				work()
			}
		case <-p.done:
			// Drain what was queued before Stop
			for {
				select {
				case work := <-p.workChan:
					if work != nil {
						work()
					}
				default:
					return
				}
			}
		}
	}
}

// Submit queues work for the pool
func (p *workerPool) Submit(ctx context.Context, work func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}

	// Workers keep consuming until done closes, so the send cannot block
	// Stop forever
	select {
	case p.workChan <- work:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully stops the worker pool
func (p *workerPool) Stop(ctx context.Context) error {
	var err error

	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.done)
		p.mu.Unlock()

		// Wait for workers with context
		finished := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(finished)
		}()

		select {
		case <-finished:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})

	return err
}
