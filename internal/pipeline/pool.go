package pipeline

import (
	"context"
	"errors"
	"sync"
)

type job func(ctx context.Context)

var errPoolClosed = errors.New("worker pool closed")

// WorkerPool runs jobs on a fixed number of goroutines with a bounded queue.
type WorkerPool struct {
	ctx       context.Context
	cancel    context.CancelFunc
	jobs      chan job
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool creates a pool with the given concurrency and queue size.
func NewWorkerPool(parent context.Context, concurrency, queueSize int) (*WorkerPool, error) {
	if concurrency <= 0 || queueSize <= 0 {
		return nil, errors.New("worker pool requires positive concurrency and queue size")
	}
	ctx, cancel := context.WithCancel(parent)
	pool := &WorkerPool{
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan job, queueSize),
	}
	pool.start(concurrency)
	return pool, nil
}

func (p *WorkerPool) start(concurrency int) {
	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-p.ctx.Done():
					return
				case job, ok := <-p.jobs:
					if !ok {
						return
					}
					// A job dequeued together with cancellation is dropped.
					if p.ctx.Err() != nil {
						return
					}
					job(p.ctx)
				}
			}
		}()
	}
}

// Submit schedules a job, blocking while the queue is full.
func (p *WorkerPool) Submit(ctx context.Context, fn job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errPoolClosed
	}
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- fn:
		return nil
	}
}

// Wait stops accepting jobs and blocks until every queued job has run, or
// until the parent context is cancelled and running jobs return.
func (p *WorkerPool) Wait() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})
	p.wg.Wait()
	p.cancel()
}
